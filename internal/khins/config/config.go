// Package config loads the bot's configuration: an optional YAML file,
// overlaid by environment variables, then validated.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Khin-96/KhinsLLM/common/environment"
)

// Memory backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendNone   = "none"
)

// Summariser sources. An empty value picks remote when a memory service key
// is configured, otherwise llm when a provider is configured, otherwise none.
const (
	SummarizerRemote = "remote"
	SummarizerLLM    = "llm"
	SummarizerNone   = "none"
)

// LLM providers.
const (
	ProviderXAI       = "xai"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// DefaultXAIBaseURL is the OpenAI-compatible endpoint of the xAI API.
const DefaultXAIBaseURL = "https://api.x.ai/v1"

const defaultPersona = "You're KhinsGPT (Khin's LLM), a witty, chaotic but caring " +
	"conversation companion. Keep replies short and conversational, and use what " +
	"you remember about the user when it helps."

// Config is the complete runtime configuration.
type Config struct {
	// User is the identity whose memory the bot keeps.
	User    string `yaml:"user"`
	Persona string `yaml:"persona"`

	Memory MemoryConfig       `yaml:"memory"`
	Remote RemoteMemoryConfig `yaml:"remote_memory"`
	LLM    LLMConfig          `yaml:"llm"`
	HTTP   HTTPConfig         `yaml:"http"`
	Matrix MatrixConfig       `yaml:"matrix"`
	Log    LogConfig          `yaml:"log"`
}

// MemoryConfig selects the persistence backend and the compaction knobs.
type MemoryConfig struct {
	Backend       string        `yaml:"backend"`
	File          string        `yaml:"file"`
	Database      string        `yaml:"database"`
	Summarizer    string        `yaml:"summarizer"`
	HighWaterMark int           `yaml:"high_water_mark"`
	KeepRecent    int           `yaml:"keep_recent"`
	SummaryLines  int           `yaml:"summary_lines"`
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
	SinkQueueSize int           `yaml:"sink_queue_size"`
}

// RemoteMemoryConfig points at a hosted memory service. An empty APIKey
// disables it.
type RemoteMemoryConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LLMConfig selects and configures the reply generator.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// HTTPConfig configures the HTTP transport. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// RateLimit is the number of chat turns a user may start per RateWindow.
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

// MatrixConfig configures the Matrix transport. An empty Homeserver disables
// it.
type MatrixConfig struct {
	Homeserver  string   `yaml:"homeserver"`
	UserID      string   `yaml:"user_id"`
	AccessToken string   `yaml:"access_token"`
	Rooms       []string `yaml:"rooms"`
	Greet       bool     `yaml:"greet"`
}

// LogConfig configures the default slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when neither a file nor environment
// variables say otherwise.
func Default() *Config {
	return &Config{
		User:    "Kinga",
		Persona: defaultPersona,
		Memory: MemoryConfig{
			Backend:       BackendFile,
			File:          "memory_store.json",
			Database:      "khins.db",
			HighWaterMark: 50,
			KeepRecent:    20,
			SummaryLines:  5,
			RemoteTimeout: 10 * time.Second,
			SinkQueueSize: 64,
		},
		Remote: RemoteMemoryConfig{
			BaseURL: "https://api.mem0.ai",
			Timeout: 15 * time.Second,
		},
		LLM: LLMConfig{
			MaxTokens:   1000,
			Temperature: 0.8,
			Timeout:     60 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:       ":8000",
			RateLimit:  20,
			RateWindow: time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty and the file exists), then environment variables. The
// result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.resolve()

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) error {
	environment.String(&cfg.User, "KHINS_USER")
	environment.String(&cfg.Persona, "KHINS_PERSONA")

	environment.String(&cfg.Memory.Backend, "KHINS_MEMORY_BACKEND")
	environment.String(&cfg.Memory.File, "KHINS_MEMORY_FILE")
	environment.String(&cfg.Memory.Database, "KHINS_DATABASE", "DATABASE_PATH")
	environment.String(&cfg.Memory.Summarizer, "KHINS_SUMMARIZER")

	environment.String(&cfg.Remote.APIKey, "MEM0_API_KEY")
	environment.String(&cfg.Remote.BaseURL, "MEM0_BASE_URL")

	environment.String(&cfg.LLM.Provider, "LLM_PROVIDER")
	environment.String(&cfg.LLM.Model, "LLM_MODEL")
	environment.String(&cfg.LLM.BaseURL, "LLM_BASE_URL")

	environment.String(&cfg.Matrix.Homeserver, "MATRIX_HOMESERVER")
	environment.String(&cfg.Matrix.UserID, "MATRIX_USER_ID")
	environment.String(&cfg.Matrix.AccessToken, "MATRIX_ACCESS_TOKEN")
	environment.StringSlice(&cfg.Matrix.Rooms, "MATRIX_ROOMS")

	environment.String(&cfg.Log.Level, "LOG_LEVEL")
	environment.String(&cfg.Log.Format, "LOG_FORMAT")

	if !environment.String(&cfg.HTTP.Addr, "HTTP_ADDR") {
		var port string
		if environment.String(&port, "PORT") {
			cfg.HTTP.Addr = ":" + strings.TrimPrefix(port, ":")
		}
	}

	for _, err := range []error{
		environment.Int(&cfg.Memory.HighWaterMark, "KHINS_HIGH_WATER_MARK"),
		environment.Int(&cfg.Memory.KeepRecent, "KHINS_KEEP_RECENT"),
		environment.Int(&cfg.Memory.SummaryLines, "KHINS_SUMMARY_LINES"),
		environment.Duration(&cfg.Memory.RemoteTimeout, "KHINS_REMOTE_TIMEOUT"),
		environment.Int(&cfg.LLM.MaxTokens, "LLM_MAX_TOKENS"),
		environment.Int(&cfg.HTTP.RateLimit, "KHINS_RATE_LIMIT"),
		environment.Bool(&cfg.Matrix.Greet, "MATRIX_GREET"),
	} {
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	// Provider keys: an explicit LLM_API_KEY wins, otherwise the key of the
	// selected (or first configured) provider is used.
	if environment.String(&cfg.LLM.APIKey, "LLM_API_KEY") {
		return nil
	}
	keys := []struct{ provider, env string }{
		{ProviderXAI, "XAI_API_KEY"},
		{ProviderOpenAI, "OPENAI_API_KEY"},
		{ProviderAnthropic, "ANTHROPIC_API_KEY"},
	}
	for _, k := range keys {
		if cfg.LLM.Provider != "" && cfg.LLM.Provider != k.provider {
			continue
		}
		var key string
		if environment.String(&key, k.env) {
			cfg.LLM.APIKey = key
			if cfg.LLM.Provider == "" {
				cfg.LLM.Provider = k.provider
			}
			if k.provider == ProviderOpenAI && cfg.LLM.BaseURL == "" {
				environment.String(&cfg.LLM.BaseURL, "OPENAI_BASE_URL")
			}
			break
		}
	}
	return nil
}

// resolve fills derived defaults once all sources have been applied.
func (c *Config) resolve() {
	c.Memory.Backend = strings.ToLower(strings.TrimSpace(c.Memory.Backend))
	c.Memory.Summarizer = strings.ToLower(strings.TrimSpace(c.Memory.Summarizer))
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))

	if c.LLM.Provider == "" {
		if c.LLM.APIKey != "" {
			c.LLM.Provider = ProviderXAI
		} else {
			c.LLM.Provider = ProviderNone
		}
	}
	if c.LLM.Provider == ProviderXAI {
		if c.LLM.BaseURL == "" {
			c.LLM.BaseURL = DefaultXAIBaseURL
		}
		if c.LLM.Model == "" {
			c.LLM.Model = "grok-beta"
		}
	}

	if c.Memory.Summarizer == "" {
		switch {
		case c.Remote.APIKey != "":
			c.Memory.Summarizer = SummarizerRemote
		case c.LLMEnabled():
			c.Memory.Summarizer = SummarizerLLM
		default:
			c.Memory.Summarizer = SummarizerNone
		}
	}
}

// LLMEnabled reports whether a reply generator is configured.
func (c *Config) LLMEnabled() bool {
	return c.LLM.Provider != ProviderNone && c.LLM.APIKey != ""
}

// RemoteEnabled reports whether the hosted memory service is configured.
func (c *Config) RemoteEnabled() bool {
	return c.Remote.APIKey != ""
}

// MatrixEnabled reports whether the Matrix transport is configured.
func (c *Config) MatrixEnabled() bool {
	return c.Matrix.Homeserver != ""
}

// Secrets returns the configured credential values that must never appear in
// logs or client-facing error text.
func (c *Config) Secrets() []string {
	var out []string
	for _, v := range []string{c.LLM.APIKey, c.Remote.APIKey, c.Matrix.AccessToken} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// NeedsDatabase reports whether the SQLite database must be opened.
func (c *Config) NeedsDatabase() bool {
	return c.Memory.Backend == BackendSQLite || c.MatrixEnabled()
}

// Validate checks cfg for consistency. It returns the first problem found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}

	if strings.TrimSpace(cfg.User) == "" {
		return fmt.Errorf("user must not be empty")
	}

	// ── Memory ───────────────────────────────────────────────────────────────
	switch cfg.Memory.Backend {
	case BackendFile:
		if cfg.Memory.File == "" {
			return fmt.Errorf("memory.file must be set for the file backend")
		}
	case BackendSQLite:
		if cfg.Memory.Database == "" {
			return fmt.Errorf("memory.database must be set for the sqlite backend")
		}
	case BackendNone:
	default:
		return fmt.Errorf("memory.backend must be one of file, sqlite, none; got %q", cfg.Memory.Backend)
	}
	if cfg.Memory.HighWaterMark < 2 {
		return fmt.Errorf("memory.high_water_mark must be at least 2, got %d", cfg.Memory.HighWaterMark)
	}
	if cfg.Memory.KeepRecent < 1 || cfg.Memory.KeepRecent >= cfg.Memory.HighWaterMark {
		return fmt.Errorf("memory.keep_recent must be between 1 and %d, got %d",
			cfg.Memory.HighWaterMark-1, cfg.Memory.KeepRecent)
	}
	if cfg.Memory.SummaryLines < 1 {
		return fmt.Errorf("memory.summary_lines must be positive, got %d", cfg.Memory.SummaryLines)
	}

	switch cfg.Memory.Summarizer {
	case SummarizerRemote:
		if !cfg.RemoteEnabled() {
			return fmt.Errorf("memory.summarizer %q requires remote_memory.api_key", SummarizerRemote)
		}
	case SummarizerLLM:
		if !cfg.LLMEnabled() {
			return fmt.Errorf("memory.summarizer %q requires an LLM provider", SummarizerLLM)
		}
	case SummarizerNone:
	default:
		return fmt.Errorf("memory.summarizer must be one of remote, llm, none; got %q", cfg.Memory.Summarizer)
	}

	// ── LLM ──────────────────────────────────────────────────────────────────
	switch cfg.LLM.Provider {
	case ProviderXAI, ProviderOpenAI, ProviderAnthropic, ProviderNone:
	default:
		return fmt.Errorf("llm.provider must be one of xai, openai, anthropic, none; got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2], got %v", cfg.LLM.Temperature)
	}

	// ── HTTP ─────────────────────────────────────────────────────────────────
	if cfg.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must not be negative, got %d", cfg.HTTP.RateLimit)
	}

	// ── Matrix ───────────────────────────────────────────────────────────────
	if cfg.MatrixEnabled() {
		if !strings.HasPrefix(cfg.Matrix.UserID, "@") {
			return fmt.Errorf("matrix.user_id must be a Matrix user ID (@user:server), got %q", cfg.Matrix.UserID)
		}
		if cfg.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.access_token must be set when matrix.homeserver is set")
		}
		for i, room := range cfg.Matrix.Rooms {
			if !strings.HasPrefix(room, "!") {
				return fmt.Errorf("matrix.rooms[%d]: %q is not a room ID", i, room)
			}
		}
	}

	// ── Log ──────────────────────────────────────────────────────────────────
	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}
	return nil
}
