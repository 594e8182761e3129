package memory

import (
	"context"
	"errors"
)

// ErrEmptyUser is returned by Append when no user identity is supplied.
var ErrEmptyUser = errors.New("memory: user id must not be empty")

// ErrCorruptState is returned by a Persister whose durable copy exists but
// cannot be decoded. The Store treats it like a missing file.
var ErrCorruptState = errors.New("memory: persisted state is corrupt")

// Persister loads and saves the whole memory state. Implementations must be
// safe to call from the Store's critical section; they are never called
// concurrently by a single Store.
type Persister interface {
	// Load returns the persisted state. A missing durable copy yields an
	// empty state and a nil error.
	Load(ctx context.Context) (State, error)

	// Save replaces the durable copy with state.
	Save(ctx context.Context, state State) error
}

// Summarizer condenses the text of old memory entries into a shorter note.
// It is a remote, fallible collaborator: callers supply a fallback.
//
// Summarize is called with the Store's lock held and must return promptly
// once ctx is done; the Store bounds it with RemoteTimeout only through ctx.
// An implementation that ignores ctx stalls every Append until it returns.
type Summarizer interface {
	Summarize(ctx context.Context, text, userID string) (string, error)
}

// Sink receives a copy of every appended memory. It is fire-and-forget:
// failures are logged by the caller and never reach the append path.
type Sink interface {
	Add(ctx context.Context, text, userID string) error
}
