package storage

import (
	"context"
	"database/sql"
)

// Snapshot is a point-in-time, read-only view of the store, backed by a
// single SQLite read transaction (SQLite's MVCC guarantees the view is
// stable for the transaction's lifetime regardless of concurrent writers).
type Snapshot struct {
	tx      *sql.Tx
	release func()
}

// Snapshot opens a new point-in-time read view (spec.md §4.1:
// "snapshot() -> read-only handle fixed at the calling instant").
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	release, err := s.pool.Checkout(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		release()
		return nil, err
	}
	return &Snapshot{tx: tx, release: release}, nil
}

// GetIn reads a record as of the snapshot's instant.
func (sn *Snapshot) GetIn(ctx context.Context, table, id string) (*Record, bool, error) {
	var content []byte
	err := sn.tx.QueryRowContext(ctx,
		`SELECT content FROM documents WHERE table_name = ? AND id = ?`, table, id,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &Record{ID: id, Content: content}, true, nil
}

// SelectByIndexIn reads index-matched records as of the snapshot's instant.
func (sn *Snapshot) SelectByIndexIn(ctx context.Context, table, field, value string) ([]Record, error) {
	rows, err := sn.tx.QueryContext(ctx,
		`SELECT d.id, d.content FROM documents d
		 JOIN document_index i ON i.table_name = d.table_name AND i.id = d.id
		 WHERE i.table_name = ? AND i.field = ? AND i.value = ?`,
		table, field, value,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Close releases the snapshot's underlying transaction and connection.
// A snapshot takes no locks that block writers, so Close never blocks on
// other activity.
func (sn *Snapshot) Close() error {
	defer sn.release()
	return sn.tx.Rollback()
}
