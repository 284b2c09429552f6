package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Record is a typed, table-scoped document: an opaque content blob plus
// the subset of fields the table's schema declares as indexed.
type Record struct {
	ID      string
	Content []byte
	Indexed map[string]string
}

// Get retrieves a single record by primary key.
func (s *Store) Get(ctx context.Context, table, id string) (*Record, bool, error) {
	release, err := s.pool.Checkout(ctx)
	if err != nil {
		return nil, false, err
	}
	defer release()

	var content []byte
	err = s.pool.db.QueryRowContext(ctx,
		`SELECT content FROM documents WHERE table_name = ? AND id = ?`, table, id,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get %s/%s: %w", table, id, err)
	}
	return &Record{ID: id, Content: content}, true, nil
}

// Upsert atomically creates or replaces a record and its secondary-index
// rows, exactly as spec.md §4.1 requires ("index maintenance is
// transactional with the primary write").
func (s *Store) Upsert(ctx context.Context, table string, rec Record) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	release, err := s.pool.Checkout(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: upsert %s/%s: begin: %w", table, rec.ID, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := upsertLocked(ctx, tx, table, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertLocked(ctx context.Context, tx *sql.Tx, table string, rec Record) error {
	now := "CURRENT_TIMESTAMP"
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO documents (table_name, id, content, created_at, updated_at)
		 VALUES (?, ?, ?, %s, %s)
		 ON CONFLICT(table_name, id) DO UPDATE SET content = excluded.content, updated_at = %s`,
		now, now, now),
		table, rec.ID, rec.Content,
	); err != nil {
		return fmt.Errorf("storage: upsert document %s/%s: %w", table, rec.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_index WHERE table_name = ? AND id = ?`, table, rec.ID); err != nil {
		return fmt.Errorf("storage: clear index %s/%s: %w", table, rec.ID, err)
	}
	for field, value := range rec.Indexed {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO document_index (table_name, field, value, id) VALUES (?, ?, ?, ?)`,
			table, field, value, rec.ID,
		); err != nil {
			return fmt.Errorf("storage: index %s/%s.%s: %w", table, rec.ID, field, err)
		}
	}
	return nil
}

// Delete removes a record and its index rows, returning the removed record
// if it existed.
func (s *Store) Delete(ctx context.Context, table, id string) (*Record, bool, error) {
	if err := s.checkWritable(); err != nil {
		return nil, false, err
	}
	rec, found, err := s.Get(ctx, table, id)
	if err != nil || !found {
		return rec, found, err
	}

	release, err := s.pool.Checkout(ctx)
	if err != nil {
		return nil, false, err
	}
	defer release()

	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE table_name = ? AND id = ?`, table, id); err != nil {
		return nil, false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_index WHERE table_name = ? AND id = ?`, table, id); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// SelectByIndex returns every record whose indexed field equals value -
// the O(log n) lookup path callers should prefer over SelectWhere.
func (s *Store) SelectByIndex(ctx context.Context, table, field, value string) ([]Record, error) {
	release, err := s.pool.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.pool.db.QueryContext(ctx,
		`SELECT d.id, d.content FROM documents d
		 JOIN document_index i ON i.table_name = d.table_name AND i.id = d.id
		 WHERE i.table_name = ? AND i.field = ? AND i.value = ?`,
		table, field, value,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: select by index %s.%s=%s: %w", table, field, value, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// SelectWhere applies an arbitrary in-process predicate over every record
// in a table (spec.md §4.1: select_where(table, predicate)). Prefer
// SelectByIndex when the predicate reduces to an indexed-field equality.
func (s *Store) SelectWhere(ctx context.Context, table string, predicate func(Record) bool) ([]Record, error) {
	release, err := s.pool.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.pool.db.QueryContext(ctx, `SELECT id, content FROM documents WHERE table_name = ?`, table)
	if err != nil {
		return nil, fmt.Errorf("storage: select where %s: %w", table, err)
	}
	defer rows.Close()

	all, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(all))
	for _, r := range all {
		if predicate == nil || predicate(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Cursor is a lazy, forward-only sequence of records backed by an open
// *sql.Rows handle (spec.md §4.1: "scan_prefix(table, prefix) -> lazy
// sequence<record>").
type Cursor struct {
	rows    *sql.Rows
	release func()
	current Record
	err     error
}

// Next advances the cursor. It returns false at end of sequence or on error.
func (c *Cursor) Next() bool {
	if !c.rows.Next() {
		return false
	}
	var id string
	var content []byte
	if err := c.rows.Scan(&id, &content); err != nil {
		c.err = err
		return false
	}
	c.current = Record{ID: id, Content: content}
	return true
}

// Record returns the record at the cursor's current position.
func (c *Cursor) Record() Record { return c.current }

// Err returns any error encountered during iteration.
func (c *Cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

// Close releases the cursor's underlying connection.
func (c *Cursor) Close() error {
	c.release()
	return c.rows.Close()
}

// ScanPrefix returns a lazy cursor over every record in table whose ID
// starts with prefix, ordered lexicographically.
func (s *Store) ScanPrefix(ctx context.Context, table, prefix string) (*Cursor, error) {
	release, err := s.pool.Checkout(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.db.QueryContext(ctx,
		`SELECT id, content FROM documents WHERE table_name = ? AND id >= ? AND id < ? ORDER BY id`,
		table, prefix, prefixUpperBound(prefix),
	)
	if err != nil {
		release()
		return nil, fmt.Errorf("storage: scan prefix %s/%s: %w", table, prefix, err)
	}
	return &Cursor{rows: rows, release: release}, nil
}

// prefixUpperBound returns the smallest string greater than every string
// beginning with prefix, for use as an exclusive range bound.
func prefixUpperBound(prefix string) string {
	if prefix == "" {
		return string(rune(0x10FFFF))
	}
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return prefix + string(rune(0x10FFFF))
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var id string
		var content []byte
		if err := rows.Scan(&id, &content); err != nil {
			return nil, err
		}
		out = append(out, Record{ID: id, Content: content})
	}
	return out, rows.Err()
}
