package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// FallbackSummary replaces the remote summary whenever the summariser is
	// absent, fails, times out or returns nothing.
	FallbackSummary = "Past conversations and interactions"

	// NoMemories is returned by Summary for a user with an empty log.
	NoMemories = "No past memories yet."
)

// StoreConfig holds the compaction and read-window knobs of a Store.
type StoreConfig struct {
	// HighWaterMark is the entry count above which a log is compacted.
	// Default: 50.
	HighWaterMark int

	// KeepRecent is the number of raw entries kept after compaction.
	// Clamped to HighWaterMark-1. Default: 20.
	KeepRecent int

	// SummaryLines is the number of most recent entries rendered by Summary.
	// Default: 5.
	SummaryLines int

	// RemoteTimeout bounds every call to the summariser and the sink.
	// Default: 10 seconds.
	RemoteTimeout time.Duration

	// SinkQueueSize is the number of pending sink deliveries buffered before
	// new ones are dropped. Default: 64.
	SinkQueueSize int
}

// DefaultStoreConfig returns a StoreConfig with the documented defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		HighWaterMark: 50,
		KeepRecent:    20,
		SummaryLines:  5,
		RemoteTimeout: 10 * time.Second,
		SinkQueueSize: 64,
	}
}

func (c StoreConfig) withDefaults() StoreConfig {
	def := DefaultStoreConfig()
	if c.HighWaterMark <= 0 {
		c.HighWaterMark = def.HighWaterMark
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = def.KeepRecent
	}
	if c.KeepRecent >= c.HighWaterMark {
		c.KeepRecent = c.HighWaterMark - 1
	}
	if c.SummaryLines <= 0 {
		c.SummaryLines = def.SummaryLines
	}
	if c.RemoteTimeout <= 0 {
		c.RemoteTimeout = def.RemoteTimeout
	}
	if c.SinkQueueSize <= 0 {
		c.SinkQueueSize = def.SinkQueueSize
	}
	return c
}

// Store owns the per-user memory logs and is the only component allowed to
// mutate them. Append, compaction and persistence run under a single
// store-wide lock, so the persisted order always equals the call order.
//
// Store is safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	cfg        StoreConfig
	state      State
	persister  Persister
	summarizer Summarizer
	forwarder  *sinkForwarder
	logger     *slog.Logger
	closed     bool

	now func() time.Time
}

// NewStore loads the persisted state and returns a ready Store. A failed load
// is logged and yields an empty state. persister may be nil (memory only);
// summarizer and sink may be nil, in which case compaction uses
// FallbackSummary and nothing is forwarded.
func NewStore(ctx context.Context, cfg StoreConfig, persister Persister, summarizer Summarizer, sink Sink, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if persister == nil {
		persister = NoopPersister{}
	}
	cfg = cfg.withDefaults()

	state, err := persister.Load(ctx)
	if err != nil {
		logger.Warn("memory: failed to load persisted state, starting empty", "err", err)
		state = nil
	}
	if state == nil {
		state = State{}
	}

	s := &Store{
		cfg:        cfg,
		state:      state,
		persister:  persister,
		summarizer: summarizer,
		logger:     logger,
		now:        time.Now,
	}
	if sink != nil {
		s.forwarder = newSinkForwarder(sink, cfg.SinkQueueSize, cfg.RemoteTimeout, logger)
	}

	logger.Info("memory store ready",
		"users", len(state),
		"high_water_mark", cfg.HighWaterMark,
		"keep_recent", cfg.KeepRecent,
		"summariser", summarizer != nil,
		"sink", sink != nil,
	)
	return s
}

// Append records text for userID, compacts the log when it crosses the
// high-water mark, persists the whole state and queues the text for the
// remote sink. Empty text is recorded as-is. The only error returned is
// ErrEmptyUser: persistence and remote failures are logged, never returned.
//
// Append is not cancellable once started; ctx only carries values.
func (s *Store) Append(ctx context.Context, userID, text string) error {
	if userID == "" {
		return ErrEmptyUser
	}
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.state[userID]
	ts := s.now().UTC()
	if n := len(log); n > 0 && ts.Before(log[n-1].Timestamp) {
		ts = log[n-1].Timestamp
	}
	s.state[userID] = append(log, Entry{Text: text, Timestamp: ts})

	if len(s.state[userID]) > s.cfg.HighWaterMark {
		s.compactLocked(ctx, userID)
	}

	if err := s.persister.Save(ctx, s.state.clone()); err != nil {
		s.logger.Error("memory: failed to persist state", "user", userID, "err", err)
	}

	s.logger.Debug("memory: appended entry",
		"user", userID,
		"text_len", len(text),
		"entries", len(s.state[userID]),
	)

	if s.forwarder != nil && !s.closed {
		s.forwarder.enqueue(userID, text)
	}
	return nil
}

// compactLocked collapses all but the most recent KeepRecent entries into a
// single summary entry. It never fails: a missing or failing summariser
// yields FallbackSummary. Must be called with mu held.
func (s *Store) compactLocked(ctx context.Context, userID string) {
	log := s.state[userID]
	if len(log) <= s.cfg.HighWaterMark {
		return
	}

	cut := len(log) - s.cfg.KeepRecent
	old, recent := log[:cut], log[cut:]

	texts := make([]string, len(old))
	for i, e := range old {
		texts[i] = e.Text
	}
	summary := s.summarize(ctx, strings.Join(texts, " "), userID)

	compacted := make(Log, 0, len(recent)+1)
	compacted = append(compacted, Entry{
		Text:      summaryPrefix + summary,
		Timestamp: s.now().UTC(),
	})
	compacted = append(compacted, recent...)
	s.state[userID] = compacted

	s.logger.Info("memory: compacted log",
		"user", userID,
		"summarised", len(old),
		"kept", len(recent),
	)
}

// summarize calls the remote summariser under RemoteTimeout, substituting
// FallbackSummary on absence, failure or an empty result.
func (s *Store) summarize(ctx context.Context, text, userID string) string {
	if s.summarizer == nil {
		return FallbackSummary
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	defer cancel()

	summary, err := s.summarizer.Summarize(ctx, text, userID)
	if err != nil {
		s.logger.Warn("memory: summariser failed, using fallback", "user", userID, "err", err)
		return FallbackSummary
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		s.logger.Warn("memory: summariser returned an empty summary, using fallback", "user", userID)
		return FallbackSummary
	}
	return summary
}

// lineFlattener keeps each rendered entry on a single line, including for
// renderers that break on the Unicode line and paragraph separators.
var lineFlattener = strings.NewReplacer(
	"\r\n", " ",
	"\n", " ",
	"\r", " ",
	"\v", " ",
	"\f", " ",
	"\u0085", " ",
	"\u2028", " ",
	"\u2029", " ",
)

// Summary renders the most recent SummaryLines entries of userID, oldest
// first, one "- "-prefixed line each. It returns NoMemories when the log is
// empty or absent.
func (s *Store) Summary(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.state[userID]
	if len(log) == 0 {
		return NoMemories
	}

	start := len(log) - s.cfg.SummaryLines
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for i, e := range log[start:] {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(lineFlattener.Replace(e.Text))
	}
	return b.String()
}

// Entries returns a copy of userID's log (nil when absent).
func (s *Store) Entries(userID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.state[userID]
	if log == nil {
		return nil
	}
	out := make([]Entry, len(log))
	copy(out, log)
	return out
}

// Len returns the number of entries in userID's log.
func (s *Store) Len(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state[userID])
}

// Users returns the identities that own a log, sorted.
func (s *Store) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]string, 0, len(s.state))
	for u := range s.state {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Close stops accepting sink deliveries and waits for queued ones to finish.
// Appends after Close still record and persist. Safe to call multiple times.
func (s *Store) Close() {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()

	if !already && s.forwarder != nil {
		s.forwarder.close()
	}
}
