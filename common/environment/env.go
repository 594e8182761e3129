// Package environment overlays configuration values from environment
// variables.
//
// Each helper writes into dst only when one of the named variables is set to
// a non-empty value, so callers can load defaults (or a config file) first and
// let the environment win. Values that are set but cannot be parsed are
// reported as errors instead of being silently ignored.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup returns the value of the first named variable that is non-empty.
func lookup(names ...string) (name, value string, ok bool) {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return n, v, true
		}
	}
	return "", "", false
}

// String sets *dst from the first non-empty variable among names and reports
// whether it did.
func String(dst *string, names ...string) bool {
	_, v, ok := lookup(names...)
	if ok {
		*dst = v
	}
	return ok
}

// Int sets *dst from the named variable parsed as a decimal integer.
func Int(dst *int, names ...string) error {
	name, v, ok := lookup(names...)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("environment variable %s: invalid integer %q", name, v)
	}
	*dst = n
	return nil
}

// Bool sets *dst from the named variable parsed with strconv.ParseBool.
func Bool(dst *bool, names ...string) error {
	name, v, ok := lookup(names...)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("environment variable %s: invalid boolean %q", name, v)
	}
	*dst = b
	return nil
}

// Duration sets *dst from the named variable parsed with time.ParseDuration
// (e.g. "30s", "5m").
func Duration(dst *time.Duration, names ...string) error {
	name, v, ok := lookup(names...)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("environment variable %s: invalid duration %q", name, v)
	}
	*dst = d
	return nil
}

// StringSlice sets *dst from a comma-separated variable, trimming whitespace
// and dropping empty elements. A variable holding only separators leaves dst
// untouched.
func StringSlice(dst *[]string, names ...string) bool {
	_, v, ok := lookup(names...)
	if !ok {
		return false
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		return false
	}
	*dst = result
	return true
}
