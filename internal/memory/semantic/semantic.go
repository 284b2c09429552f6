// Package semantic implements semantic memory (spec.md §4.4.3): semantic
// units and their dependency graph, generalized from the teacher's
// internal/store/local_graph.go free-form (entity, relation, entity)
// triples into typed SemanticUnit records and typed DependencyEdges, with
// graph traversal delegated to internal/graphquery and nearest-neighbor
// search delegated to internal/storage's vector index (local_vector.go's
// vector-recall idiom).
package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cogmem/engine/internal/engerr"
	"github.com/cogmem/engine/internal/graphquery"
	"github.com/cogmem/engine/internal/storage"
	"github.com/cogmem/engine/internal/types"
)

const (
	unitsTable = "semantic_units"
	edgeType   = "dependency_edge"
)

// Store is the semantic memory tier.
type Store struct {
	store *storage.Store
	graph *graphquery.Engine
}

// New returns a semantic memory tier backed by store, with graph
// traversal delegated to a freshly constructed graphquery engine.
func New(store *storage.Store) (*Store, error) {
	g, err := graphquery.NewEngine(graphquery.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("semantic: graphquery engine: %w", err)
	}
	return &Store{store: store, graph: g}, nil
}

// RememberUnit upserts a semantic unit, assigning an ID if absent.
func (s *Store) RememberUnit(ctx context.Context, unit types.SemanticUnit) (types.SemanticUnit, error) {
	unit, rec, err := prepareUnitRecord(unit)
	if err != nil {
		return types.SemanticUnit{}, err
	}
	if err := s.store.Upsert(ctx, unitsTable, rec); err != nil {
		return types.SemanticUnit{}, err
	}
	if err := s.indexEmbedding(ctx, unit); err != nil {
		return types.SemanticUnit{}, err
	}
	return unit, nil
}

// ReplaceFileUnits commits a file's entire reparse outcome — superseded
// units transitioning out of active status and freshly extracted units
// entering it — as a single storage transaction, so an external reader
// never observes a blend of pre- and post-reparse unit sets (spec.md
// §4.5: "Achieved by committing all status updates for a file in one
// storage transaction"; testable property #4).
func (s *Store) ReplaceFileUnits(ctx context.Context, superseded, fresh []types.SemanticUnit) ([]types.SemanticUnit, error) {
	ops := make([]storage.Op, 0, len(superseded)+len(fresh))
	prepared := make([]types.SemanticUnit, 0, len(fresh))

	for _, u := range superseded {
		_, rec, err := prepareUnitRecord(u)
		if err != nil {
			return nil, err
		}
		ops = append(ops, storage.Op{Kind: storage.OpUpsert, Table: unitsTable, Rec: rec})
	}
	for _, u := range fresh {
		unit, rec, err := prepareUnitRecord(u)
		if err != nil {
			return nil, err
		}
		ops = append(ops, storage.Op{Kind: storage.OpUpsert, Table: unitsTable, Rec: rec})
		prepared = append(prepared, unit)
	}

	if err := s.store.Batch(ctx, ops); err != nil {
		return nil, fmt.Errorf("semantic: replace file units: %w", err)
	}

	for _, unit := range prepared {
		if err := s.indexEmbedding(ctx, unit); err != nil {
			return nil, err
		}
	}
	return prepared, nil
}

// indexEmbedding registers unit's embedding, if any. Embedding indexing
// is intentionally outside the status-transition transaction: spec.md
// §4.5 step 5 treats embedding jobs as asynchronous follow-ups to the
// atomic unit commit, not part of it.
func (s *Store) indexEmbedding(ctx context.Context, unit types.SemanticUnit) error {
	if len(unit.Embedding) == 0 {
		return nil
	}
	if err := s.store.IndexEmbedding(ctx, unit.ID, unit.Embedding); err != nil {
		return fmt.Errorf("semantic: index embedding %s: %w", unit.ID, err)
	}
	return nil
}

func prepareUnitRecord(unit types.SemanticUnit) (types.SemanticUnit, storage.Record, error) {
	if unit.ID == "" {
		unit.ID = uuid.NewString()
	}
	now := time.Now()
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = now
	}
	unit.UpdatedAt = now
	if unit.Status == "" {
		unit.Status = types.UnitStatusActive
	}

	data, err := json.Marshal(unit)
	if err != nil {
		return types.SemanticUnit{}, storage.Record{}, fmt.Errorf("semantic: marshal %s: %w", unit.ID, err)
	}
	rec := storage.Record{
		ID:      unit.ID,
		Content: data,
		Indexed: map[string]string{
			"workspace_id":   unit.WorkspaceID,
			"qualified_name": unit.WorkspaceID + "/" + unit.QualifiedName,
			"file_path":      unit.WorkspaceID + "/" + unit.FilePath,
			"status":         string(unit.Status),
		},
	}
	return unit, rec, nil
}

// GetSemanticUnit retrieves a unit by ID regardless of status.
func (s *Store) GetSemanticUnit(ctx context.Context, id string) (types.SemanticUnit, error) {
	rec, found, err := s.store.Get(ctx, unitsTable, id)
	if err != nil {
		return types.SemanticUnit{}, err
	}
	if !found {
		return types.SemanticUnit{}, &engerr.NotFound{Kind: "semantic_unit", Key: id}
	}
	var unit types.SemanticUnit
	if err := json.Unmarshal(rec.Content, &unit); err != nil {
		return types.SemanticUnit{}, fmt.Errorf("semantic: unmarshal %s: %w", id, err)
	}
	return unit, nil
}

// QueryUnitsByFile returns only active units for (workspace, path)
// (spec.md §4.4.3: query_units_by_file, "active only").
func (s *Store) QueryUnitsByFile(ctx context.Context, workspaceID, filePath string) ([]types.SemanticUnit, error) {
	all, err := s.QueryAllUnitsByFile(ctx, workspaceID, filePath)
	if err != nil {
		return nil, err
	}
	out := make([]types.SemanticUnit, 0, len(all))
	for _, u := range all {
		if u.Status == types.UnitStatusActive {
			out = append(out, u)
		}
	}
	return out, nil
}

// QueryAllUnitsByFile returns every unit for (workspace, path), any status.
func (s *Store) QueryAllUnitsByFile(ctx context.Context, workspaceID, filePath string) ([]types.SemanticUnit, error) {
	recs, err := s.store.SelectByIndex(ctx, unitsTable, "file_path", workspaceID+"/"+filePath)
	if err != nil {
		return nil, err
	}
	out := make([]types.SemanticUnit, 0, len(recs))
	for _, rec := range recs {
		var u types.SemanticUnit
		if err := json.Unmarshal(rec.Content, &u); err != nil {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// Associate records a typed dependency edge between two units, both in
// the storage core's graph table and the graph-query hydration source.
func (s *Store) Associate(ctx context.Context, fromID, toID string, depType types.DependencyType) error {
	edge := types.DependencyEdge{FromID: fromID, ToID: toID, DepType: depType}
	attrs, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("semantic: marshal edge: %w", err)
	}
	if err := s.store.Relate(ctx, fromID, edgeType+":"+string(depType), toID, attrs); err != nil {
		return err
	}
	return s.graph.HydrateFromEdges([]graphquery.DependencyEdge{{FromID: fromID, ToID: toID, DepType: string(depType)}})
}

// GetDependencies returns unit's outbound dependency edges.
func (s *Store) GetDependencies(ctx context.Context, unitID string) ([]types.DependencyEdge, error) {
	edges, err := s.store.EdgesFrom(ctx, unitID, "")
	if err != nil {
		return nil, err
	}
	return filterDependencyEdges(edges), nil
}

// GetDependents returns unit's inbound dependency edges.
func (s *Store) GetDependents(ctx context.Context, unitID string) ([]types.DependencyEdge, error) {
	edges, err := s.store.EdgesTo(ctx, unitID, "")
	if err != nil {
		return nil, err
	}
	return filterDependencyEdges(edges), nil
}

func filterDependencyEdges(edges []storage.Edge) []types.DependencyEdge {
	var out []types.DependencyEdge
	for _, e := range edges {
		var dep types.DependencyEdge
		if err := json.Unmarshal(e.Attrs, &dep); err != nil {
			continue
		}
		out = append(out, dep)
	}
	return out
}

// QueryGraph evaluates a Datalog traversal query (e.g. "reachable(X, Y)")
// against the dependency graph hydrated into internal/graphquery
// (spec.md §4.4.3: query_graph, cypher-like traversal).
func (s *Store) QueryGraph(ctx context.Context, query string) (*graphquery.QueryResult, error) {
	return s.graph.Query(ctx, query)
}

// SearchSemantic returns the topK units by cosine similarity to
// queryEmbedding (spec.md §4.4.3: search_semantic).
func (s *Store) SearchSemantic(ctx context.Context, queryEmbedding []float32, topK int) ([]types.SemanticUnit, error) {
	scored, err := s.store.SearchNearest(ctx, queryEmbedding, topK)
	if err != nil {
		return nil, err
	}
	out := make([]types.SemanticUnit, 0, len(scored))
	for _, sc := range scored {
		unit, err := s.GetSemanticUnit(ctx, sc.ID)
		if err != nil {
			continue
		}
		out = append(out, unit)
	}
	return out, nil
}
