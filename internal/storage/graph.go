package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Edge is a directed, typed relationship between two entity IDs, stored
// independently of the document tables so traversal never requires
// joining back through a specific table's schema.
type Edge struct {
	FromID   string
	EdgeType string
	ToID     string
	Attrs    []byte
}

// Relate atomically records a directed edge (spec.md §4.1: relate(from,
// edge_type, to)). Re-relating the same triple adds no second edge; it
// replaces the existing edge's attrs.
func (s *Store) Relate(ctx context.Context, from, edgeType, to string, attrs []byte) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	release, err := s.pool.Checkout(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = s.pool.db.ExecContext(ctx,
		`INSERT INTO graph_edges (from_id, edge_type, to_id, attrs) VALUES (?, ?, ?, ?)
		 ON CONFLICT(from_id, edge_type, to_id) DO UPDATE SET attrs = excluded.attrs`,
		from, edgeType, to, attrs,
	)
	if err != nil {
		return fmt.Errorf("storage: relate %s-%s->%s: %w", from, edgeType, to, err)
	}
	return nil
}

// Unrelate removes a directed edge if it exists.
func (s *Store) Unrelate(ctx context.Context, from, edgeType, to string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	release, err := s.pool.Checkout(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = s.pool.db.ExecContext(ctx,
		`DELETE FROM graph_edges WHERE from_id = ? AND edge_type = ? AND to_id = ?`, from, edgeType, to,
	)
	return err
}

// EdgesFrom returns every outgoing edge from id, optionally filtered by type.
func (s *Store) EdgesFrom(ctx context.Context, id string, edgeType string) ([]Edge, error) {
	return s.queryEdges(ctx, "from_id", id, edgeType)
}

// EdgesTo returns every incoming edge into id, optionally filtered by type.
func (s *Store) EdgesTo(ctx context.Context, id string, edgeType string) ([]Edge, error) {
	return s.queryEdges(ctx, "to_id", id, edgeType)
}

func (s *Store) queryEdges(ctx context.Context, col, id, edgeType string) ([]Edge, error) {
	release, err := s.pool.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := fmt.Sprintf(`SELECT from_id, edge_type, to_id, attrs FROM graph_edges WHERE %s = ?`, col)
	args := []any{id}
	if edgeType != "" {
		query += " AND edge_type = ?"
		args = append(args, edgeType)
	}

	rows, err := s.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) ([]Edge, error) {
	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.FromID, &e.EdgeType, &e.ToID, &e.Attrs); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TraverseDirection selects which side of an edge Traverse follows.
type TraverseDirection int

const (
	TraverseOutbound TraverseDirection = iota
	TraverseInbound
	TraverseBoth
)

// TraverseOptions bounds a graph walk (spec.md §4.1: traverse(start,
// edge_types, max_depth)).
type TraverseOptions struct {
	EdgeTypes []string // empty means any edge type
	MaxDepth  int      // <=0 means unbounded except by dedup
	Direction TraverseDirection
}

// TraverseResult is one node reached during a walk, annotated with its
// distance from the start node.
type TraverseResult struct {
	ID    string
	Depth int
}

// Traverse performs a breadth-first walk from start, visiting each
// reachable node at most once (grounded on the teacher's
// local_graph.go TraversePath BFS-with-visited-set shape).
func (s *Store) Traverse(ctx context.Context, start string, opts TraverseOptions) ([]TraverseResult, error) {
	typeSet := make(map[string]bool, len(opts.EdgeTypes))
	for _, t := range opts.EdgeTypes {
		typeSet[t] = true
	}

	visited := map[string]int{start: 0}
	queue := []TraverseResult{{ID: start, Depth: 0}}
	var out []TraverseResult

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if opts.MaxDepth > 0 && cur.Depth >= opts.MaxDepth {
			continue
		}

		neighbors, err := s.neighborsOf(ctx, cur.ID, opts.Direction)
		if err != nil {
			return nil, err
		}

		for _, e := range neighbors {
			if len(typeSet) > 0 && !typeSet[e.EdgeType] {
				continue
			}
			next := e.ToID
			if cur.ID == e.ToID {
				next = e.FromID
			}
			if _, seen := visited[next]; seen {
				continue
			}
			res := TraverseResult{ID: next, Depth: cur.Depth + 1}
			visited[next] = res.Depth
			out = append(out, res)
			queue = append(queue, res)
		}
	}
	return out, nil
}

func (s *Store) neighborsOf(ctx context.Context, id string, dir TraverseDirection) ([]Edge, error) {
	switch dir {
	case TraverseInbound:
		return s.EdgesTo(ctx, id, "")
	case TraverseBoth:
		out, err := s.EdgesFrom(ctx, id, "")
		if err != nil {
			return nil, err
		}
		in, err := s.EdgesTo(ctx, id, "")
		if err != nil {
			return nil, err
		}
		return append(out, in...), nil
	default:
		return s.EdgesFrom(ctx, id, "")
	}
}
