package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// SQLitePersister stores the memory state in the memory_entries table of the
// application database. Each Save replaces the table content inside one
// transaction, so a crash mid-write leaves the previous state intact.
//
// The caller must ensure the table exists (created by migration
// 0001_init.sql in the store package).
type SQLitePersister struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLitePersister creates a SQLitePersister on db. If logger is nil, the
// default slog logger is used.
func NewSQLitePersister(db *sql.DB, logger *slog.Logger) *SQLitePersister {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLitePersister{db: db, logger: logger}
}

// Load reads every stored entry, grouped by user in position order.
func (p *SQLitePersister) Load(ctx context.Context) (State, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, text, timestamp
		FROM memory_entries
		ORDER BY user_id, position`)
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: query entries: %w", err)
	}
	defer rows.Close()

	state := State{}
	for rows.Next() {
		var user, text, tsStr string
		if err := rows.Scan(&user, &text, &tsStr); err != nil {
			return nil, fmt.Errorf("memory sqlite: scan row: %w", err)
		}
		ts, err := parseTimestamp(tsStr)
		if err != nil {
			return nil, fmt.Errorf("%w: user %q: %v", ErrCorruptState, user, err)
		}
		state[user] = append(state[user], Entry{Text: text, Timestamp: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory sqlite: iterate rows: %w", err)
	}
	return state, nil
}

// Save replaces the stored state with state.
func (p *SQLitePersister) Save(ctx context.Context, state State) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory sqlite: begin: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_entries`); err != nil {
		tx.Rollback()
		return fmt.Errorf("memory sqlite: clear entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memory_entries (user_id, position, text, timestamp)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("memory sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	rowsWritten := 0
	for user, log := range state {
		for i, e := range log {
			if _, err := stmt.ExecContext(ctx, user, i, e.Text, e.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
				tx.Rollback()
				return fmt.Errorf("memory sqlite: insert entry: %w", err)
			}
			rowsWritten++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("memory sqlite: commit: %w", err)
	}

	p.logger.Debug("memory sqlite: saved state", "users", len(state), "entries", rowsWritten)
	return nil
}

// Compile-time interface satisfaction check.
var _ Persister = (*SQLitePersister)(nil)
