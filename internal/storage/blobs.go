package storage

import (
	"context"
	"database/sql"
	"fmt"

	"lukechampine.com/blake3"
)

// HashContent computes the BLAKE3 hex digest used as every content blob's
// address. BLAKE3 replaces the teacher's SHA-256 checksum per this
// engine's content-addressing invariant (see SPEC_FULL.md).
func HashContent(data []byte) string {
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// PutBlob stores data under its content hash if not already present and
// increments its reference count, returning the hash. Content-addressed
// storage means identical bytes are stored once regardless of how many
// VNodes point at them (spec.md §4.2).
func (s *Store) PutBlob(ctx context.Context, data []byte) (string, error) {
	if err := s.checkWritable(); err != nil {
		return "", err
	}
	hash := HashContent(data)

	release, err := s.pool.Checkout(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	_, err = s.pool.db.ExecContext(ctx,
		`INSERT INTO blobs (hash, data, refcount) VALUES (?, ?, 1)
		 ON CONFLICT(hash) DO UPDATE SET refcount = refcount + 1`,
		hash, data,
	)
	if err != nil {
		return "", fmt.Errorf("storage: put blob %s: %w", hash, err)
	}
	return hash, nil
}

// GetBlob retrieves content by hash without affecting its refcount.
func (s *Store) GetBlob(ctx context.Context, hash string) ([]byte, bool, error) {
	release, err := s.pool.Checkout(ctx)
	if err != nil {
		return nil, false, err
	}
	defer release()

	var data []byte
	err = s.pool.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE hash = ?`, hash).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// BlobRefcount reports a blob's current reference count, for callers
// that need to verify testable property #2 ("sum over vnodes referencing
// h of 1 == blob(h).refcount") directly.
func (s *Store) BlobRefcount(ctx context.Context, hash string) (int, bool, error) {
	release, err := s.pool.Checkout(ctx)
	if err != nil {
		return 0, false, err
	}
	defer release()

	var refcount int
	err = s.pool.db.QueryRowContext(ctx, `SELECT refcount FROM blobs WHERE hash = ?`, hash).Scan(&refcount)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return refcount, true, nil
}

// ReleaseBlob decrements a blob's refcount, deleting it once it reaches
// zero. Callers invoke this once per VNode that stops referencing the
// hash (e.g. on delete or content replacement).
func (s *Store) ReleaseBlob(ctx context.Context, hash string) error {
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
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `UPDATE blobs SET refcount = refcount - 1 WHERE hash = ?`, hash); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE hash = ? AND refcount <= 0`, hash); err != nil {
		return err
	}
	return tx.Commit()
}
