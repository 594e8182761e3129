package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// stateSchemaJSON describes the on-disk memory document:
//
//	{"<user>": [{"text": "...", "timestamp": "<ISO-8601>"}, ...], ...}
const stateSchemaJSON = `{
	"type": "object",
	"additionalProperties": {
		"type": "array",
		"items": {
			"type": "object",
			"required": ["text", "timestamp"],
			"properties": {
				"text":      {"type": "string"},
				"timestamp": {"type": "string", "minLength": 1}
			}
		}
	}
}`

var stateSchema = jsonschema.MustCompileString("memory_state.schema.json", stateSchemaJSON)

// timestampLayouts are tried in order when decoding. The naive layout accepts
// timestamps written without a zone designator, which are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

type fileEntry struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// FilePersister stores the memory state as a single JSON document. Every
// Save rewrites the whole file atomically (temp file + rename).
type FilePersister struct {
	path string
}

// NewFilePersister returns a FilePersister writing to path. The parent
// directory is created on first Save.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Path returns the file location.
func (p *FilePersister) Path() string {
	return p.path
}

// Load reads and validates the memory document. A missing file yields an
// empty state; content that is not a valid memory document yields
// ErrCorruptState.
func (p *FilePersister) Load(_ context.Context) (State, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory file: read %s: %w", p.path, err)
	}
	return decodeState(data)
}

// Save writes state to the file, replacing any previous content.
func (p *FilePersister) Save(_ context.Context, state State) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("memory file: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".memory-*.tmp")
	if err != nil {
		return fmt.Errorf("memory file: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("memory file: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("memory file: close temp: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("memory file: rename into place: %w", err)
	}
	return nil
}

func encodeState(state State) ([]byte, error) {
	doc := make(map[string][]fileEntry, len(state))
	for user, log := range state {
		entries := make([]fileEntry, len(log))
		for i, e := range log {
			entries[i] = fileEntry{
				Text:      e.Text,
				Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
			}
		}
		doc[user] = entries
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("memory file: encode: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (State, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if err := stateSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	var doc map[string][]fileEntry
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	state := make(State, len(doc))
	for user, entries := range doc {
		log := make(Log, len(entries))
		for i, fe := range entries {
			ts, err := parseTimestamp(fe.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("%w: user %q entry %d: %v", ErrCorruptState, user, i, err)
			}
			log[i] = Entry{Text: fe.Text, Timestamp: ts}
		}
		state[user] = log
	}
	return state, nil
}

func parseTimestamp(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// NoopPersister keeps nothing: state lives only in process memory.
type NoopPersister struct{}

// Load always returns an empty state.
func (NoopPersister) Load(_ context.Context) (State, error) { return State{}, nil }

// Save discards state.
func (NoopPersister) Save(_ context.Context, _ State) error { return nil }

// Compile-time interface satisfaction checks.
var (
	_ Persister = (*FilePersister)(nil)
	_ Persister = NoopPersister{}
)
