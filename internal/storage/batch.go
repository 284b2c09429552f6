package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// OpKind enumerates the mutations a Batch can carry.
type OpKind int

const (
	OpUpsert OpKind = iota
	OpDelete
	OpRelate
	OpUnrelate
)

// Op is one mutation within a Batch. Which fields apply depends on Kind.
type Op struct {
	Kind  OpKind
	Table string // OpUpsert, OpDelete
	Rec   Record // OpUpsert
	ID    string // OpDelete

	From, EdgeType, To string // OpRelate, OpUnrelate
	Attrs              []byte // OpRelate
}

// Batch applies every op in a single transaction: either all writes
// commit or none do (spec.md §4.1: "batch(ops) -> atomic multi-op write").
func (s *Store) Batch(ctx context.Context, ops []Op) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	release, err := s.pool.Checkout(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: batch begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i, op := range ops {
		if err := applyOp(ctx, tx, op); err != nil {
			return fmt.Errorf("storage: batch op %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func applyOp(ctx context.Context, tx *sql.Tx, op Op) error {
	switch op.Kind {
	case OpUpsert:
		return upsertLocked(ctx, tx, op.Table, op.Rec)
	case OpDelete:
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE table_name = ? AND id = ?`, op.Table, op.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM document_index WHERE table_name = ? AND id = ?`, op.Table, op.ID)
		return err
	case OpRelate:
		_, err := tx.ExecContext(ctx,
			`INSERT INTO graph_edges (from_id, edge_type, to_id, attrs) VALUES (?, ?, ?, ?)
			 ON CONFLICT(from_id, edge_type, to_id) DO UPDATE SET attrs = excluded.attrs`,
			op.From, op.EdgeType, op.To, op.Attrs,
		)
		return err
	case OpUnrelate:
		_, err := tx.ExecContext(ctx,
			`DELETE FROM graph_edges WHERE from_id = ? AND edge_type = ? AND to_id = ?`, op.From, op.EdgeType, op.To,
		)
		return err
	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
}
