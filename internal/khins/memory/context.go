package memory

// ContextAssembler renders the memory block injected ahead of every prompt.
// It reads memory only through Store.Summary, so the block is bounded to the
// store's SummaryLines regardless of how long the log is.
type ContextAssembler struct {
	store *Store
}

// NewContextAssembler returns an assembler reading from store.
func NewContextAssembler(store *Store) *ContextAssembler {
	return &ContextAssembler{store: store}
}

// BuildContext returns the context block for userID.
func (a *ContextAssembler) BuildContext(userID string) string {
	return a.store.Summary(userID)
}
