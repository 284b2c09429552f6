// Package query implements the Query Surface (spec.md §6): a thin typed
// façade over every layer below it, exposing exactly the operation
// families external collaborators (orchestrator, MCP server, CLI, HTTP
// API — all out of scope here) would mount. Grounded on the teacher's
// internal/mcp/store.go "typed operation façade over internal state"
// shape, generalized away from MCP-specific JSON-RPC framing.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cogmem/engine/internal/config"
	"github.com/cogmem/engine/internal/consolidation"
	"github.com/cogmem/engine/internal/engerr"
	"github.com/cogmem/engine/internal/graphquery"
	"github.com/cogmem/engine/internal/ingest"
	"github.com/cogmem/engine/internal/memory/episodic"
	"github.com/cogmem/engine/internal/memory/procedural"
	"github.com/cogmem/engine/internal/memory/semantic"
	"github.com/cogmem/engine/internal/memory/working"
	"github.com/cogmem/engine/internal/storage"
	"github.com/cogmem/engine/internal/types"
	"github.com/cogmem/engine/internal/vfs"
)

const workspaceTable = "workspaces"

// Surface is the typed operation façade over L1-L5 (spec.md §6).
type Surface struct {
	store        *storage.Store
	vfs          *vfs.VFS
	working      *working.Store
	episodic     *episodic.Store
	semantic     *semantic.Store
	procedural   *procedural.Store
	ingest       *ingest.Pipeline
	consolidator *consolidation.Consolidator
}

// New assembles a Surface over already-constructed layer instances.
func New(store *storage.Store, v *vfs.VFS, w *working.Store, ep *episodic.Store, sem *semantic.Store, proc *procedural.Store, ing *ingest.Pipeline, c *consolidation.Consolidator) *Surface {
	return &Surface{store: store, vfs: v, working: w, episodic: ep, semantic: sem, procedural: proc, ingest: ing, consolidator: c}
}

// --- Workspace family ---

// CreateWorkspace persists a new workspace and registers it with the VFS.
func (s *Surface) CreateWorkspace(ctx context.Context, ws types.Workspace) (types.Workspace, error) {
	if ws.ID == "" {
		ws.ID = uuid.NewString()
	}
	now := time.Now()
	ws.CreatedAt, ws.UpdatedAt = now, now

	if err := s.persistWorkspace(ctx, ws); err != nil {
		return types.Workspace{}, err
	}
	s.vfs.RegisterWorkspace(&ws)
	return ws, nil
}

func (s *Surface) persistWorkspace(ctx context.Context, ws types.Workspace) error {
	data, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("query: marshal workspace %s: %w", ws.ID, err)
	}
	return s.store.Upsert(ctx, workspaceTable, storage.Record{
		ID:      ws.ID,
		Content: data,
		Indexed: map[string]string{"namespace": ws.Namespace},
	})
}

// GetWorkspace retrieves a workspace by ID.
func (s *Surface) GetWorkspace(ctx context.Context, id string) (types.Workspace, error) {
	rec, found, err := s.store.Get(ctx, workspaceTable, id)
	if err != nil {
		return types.Workspace{}, err
	}
	if !found {
		return types.Workspace{}, &engerr.NotFound{Kind: "workspace", Key: id}
	}
	var ws types.Workspace
	if err := json.Unmarshal(rec.Content, &ws); err != nil {
		return types.Workspace{}, fmt.Errorf("query: unmarshal workspace %s: %w", id, err)
	}
	return ws, nil
}

// ListWorkspaces returns every workspace in namespace (all namespaces
// when empty).
func (s *Surface) ListWorkspaces(ctx context.Context, namespace string) ([]types.Workspace, error) {
	var recs []storage.Record
	var err error
	if namespace != "" {
		recs, err = s.store.SelectByIndex(ctx, workspaceTable, "namespace", namespace)
	} else {
		recs, err = s.store.SelectWhere(ctx, workspaceTable, nil)
	}
	if err != nil {
		return nil, err
	}
	out := make([]types.Workspace, 0, len(recs))
	for _, rec := range recs {
		var ws types.Workspace
		if err := json.Unmarshal(rec.Content, &ws); err != nil {
			continue
		}
		out = append(out, ws)
	}
	return out, nil
}

// UpdateWorkspace persists mutated workspace fields and re-registers the
// workspace with the VFS so read-only/fork checks see the new state.
func (s *Surface) UpdateWorkspace(ctx context.Context, ws types.Workspace) (types.Workspace, error) {
	if _, err := s.GetWorkspace(ctx, ws.ID); err != nil {
		return types.Workspace{}, err
	}
	ws.UpdatedAt = time.Now()
	if err := s.persistWorkspace(ctx, ws); err != nil {
		return types.Workspace{}, err
	}
	s.vfs.RegisterWorkspace(&ws)
	return ws, nil
}

// DeleteWorkspace removes a workspace's record. It does not cascade-delete
// vnodes or memory records, and GC does not remove them either: GC only
// visits workspaces that still have a record.
func (s *Surface) DeleteWorkspace(ctx context.Context, id string) error {
	_, _, err := s.store.Delete(ctx, workspaceTable, id)
	return err
}

// --- VFS family ---

func (s *Surface) ReadFile(ctx context.Context, workspaceID, path string) ([]byte, error) {
	return s.vfs.Read(ctx, workspaceID, path)
}

func (s *Surface) WriteFile(ctx context.Context, workspaceID, path string, data []byte) (*types.VNode, error) {
	return s.vfs.Write(ctx, workspaceID, path, data)
}

func (s *Surface) UpdateFile(ctx context.Context, workspaceID, path string, data []byte) (*types.VNode, error) {
	return s.vfs.Update(ctx, workspaceID, path, data)
}

func (s *Surface) DeleteFile(ctx context.Context, workspaceID, path string, recursive bool) error {
	return s.vfs.Delete(ctx, workspaceID, path, recursive)
}

func (s *Surface) CopyFile(ctx context.Context, workspaceID, src, dst string, overwrite, recursive bool) error {
	return s.vfs.Copy(ctx, workspaceID, src, dst, overwrite, recursive)
}

func (s *Surface) MoveFile(ctx context.Context, workspaceID, src, dst string, overwrite bool) error {
	return s.vfs.Move(ctx, workspaceID, src, dst, overwrite)
}

func (s *Surface) ListDir(ctx context.Context, workspaceID, path string) ([]*types.VNode, error) {
	return s.vfs.List(ctx, workspaceID, path)
}

func (s *Surface) Walk(ctx context.Context, workspaceID, path string, opts vfs.WalkOptions) ([]*types.VNode, error) {
	return s.vfs.Walk(ctx, workspaceID, path, opts)
}

func (s *Surface) Import(ctx context.Context, workspaceID, hostRoot string, cfg config.ImportConfig) (*vfs.ImportResult, error) {
	return s.vfs.Import(ctx, workspaceID, hostRoot, cfg)
}

// --- Units family ---

func (s *Surface) GetUnit(ctx context.Context, id string) (types.SemanticUnit, error) {
	return s.semantic.GetSemanticUnit(ctx, id)
}

func (s *Surface) QueryUnitsByFile(ctx context.Context, workspaceID, filePath string) ([]types.SemanticUnit, error) {
	return s.semantic.QueryUnitsByFile(ctx, workspaceID, filePath)
}

func (s *Surface) SearchUnitsSemantic(ctx context.Context, queryEmbedding []float32, topK int) ([]types.SemanticUnit, error) {
	return s.semantic.SearchSemantic(ctx, queryEmbedding, topK)
}

func (s *Surface) UnitDependencies(ctx context.Context, unitID string) ([]types.DependencyEdge, error) {
	return s.semantic.GetDependencies(ctx, unitID)
}

func (s *Surface) UnitDependents(ctx context.Context, unitID string) ([]types.DependencyEdge, error) {
	return s.semantic.GetDependents(ctx, unitID)
}

func (s *Surface) QueryGraph(ctx context.Context, datalogQuery string) (*graphquery.QueryResult, error) {
	return s.semantic.QueryGraph(ctx, datalogQuery)
}

// --- Episodes family ---

func (s *Surface) RememberEpisode(ctx context.Context, ep types.Episode) (types.Episode, error) {
	return s.episodic.RememberEpisode(ctx, ep)
}

func (s *Surface) GetEpisode(ctx context.Context, id string) (types.Episode, error) {
	return s.episodic.GetEpisode(ctx, id)
}

func (s *Surface) SearchEpisodes(ctx context.Context, workspaceID, q string, limit int) ([]types.Episode, error) {
	return s.episodic.SearchEpisodes(ctx, workspaceID, q, limit)
}

func (s *Surface) ShareEpisode(ctx context.Context, id string, recipients []string) (types.Episode, error) {
	return s.episodic.ShareEpisode(ctx, id, recipients)
}

func (s *Surface) ReplayFromMemory(ctx context.Context, agentID, sessionID string, limit int) ([]types.Episode, error) {
	return s.episodic.ReplayFromMemory(ctx, agentID, sessionID, limit)
}

// --- Patterns family ---

func (s *Surface) StorePattern(ctx context.Context, p types.Pattern) (types.Pattern, error) {
	return s.procedural.StorePattern(ctx, p)
}

func (s *Surface) GetPattern(ctx context.Context, id string) (types.Pattern, error) {
	return s.procedural.GetPattern(ctx, id)
}

func (s *Surface) SearchPatterns(ctx context.Context, workspaceID, q, patternType string, minConfidence float64, limit int) ([]types.Pattern, error) {
	return s.procedural.SearchPatterns(ctx, workspaceID, q, patternType, minConfidence, limit)
}

func (s *Surface) ApplyPattern(ctx context.Context, id, applicationContext string) (procedural.ApplicationReport, error) {
	return s.procedural.ApplyPattern(ctx, id, applicationContext)
}

func (s *Surface) UpdatePatternStats(ctx context.Context, id string, outcome float64) (types.Pattern, error) {
	return s.procedural.UpdatePatternStats(ctx, id, outcome)
}

// --- Memory family ---

func (s *Surface) WorkingStore(agentID, sessionID, key string, content []byte, priority types.Priority) error {
	return s.working.Store(key, agentID, sessionID, content, priority)
}

func (s *Surface) WorkingRetrieve(key string) ([]byte, bool) {
	return s.working.Retrieve(key)
}

// Consolidate runs one consolidation pass on demand (spec.md §6: Memory
// family "consolidate").
func (s *Surface) Consolidate(ctx context.Context, workspaceID string) (consolidation.Report, error) {
	return s.consolidator.Tick(ctx, workspaceID)
}

// Forget evicts TTL-expired working-memory items and reports the count.
func (s *Surface) Forget() int {
	return s.working.Cleanup()
}

// GetMemoryStats reports storage-wide table sizes (spec.md §6: Memory
// family "get-stats").
func (s *Surface) GetMemoryStats(ctx context.Context) (map[string]int64, error) {
	return s.store.Stats(ctx)
}

// --- Admin family ---

// Snapshot opens a point-in-time read-only view of the store.
func (s *Surface) Snapshot(ctx context.Context) (*storage.Snapshot, error) {
	return s.store.Snapshot(ctx)
}

// Cleanup drops TTL-expired working-memory items, mirroring Forget; kept
// distinct so Admin callers don't need to know Memory's internal name for
// the same operation (spec.md §6 lists both families separately).
func (s *Surface) Cleanup() int {
	return s.working.Cleanup()
}

// GC runs one consolidation pass (pattern extraction + importance decay +
// pruning) across every workspace, returning the aggregate report.
func (s *Surface) GC(ctx context.Context) (consolidation.Report, error) {
	workspaces, err := s.ListWorkspaces(ctx, "")
	if err != nil {
		return consolidation.Report{}, err
	}

	var total consolidation.Report
	for _, ws := range workspaces {
		r, err := s.consolidator.Tick(ctx, ws.ID)
		if err != nil {
			return total, fmt.Errorf("query: gc workspace %s: %w", ws.ID, err)
		}
		total.EpisodesProcessed += r.EpisodesProcessed
		total.PatternsExtracted += r.PatternsExtracted
		total.MemoriesDecayed += r.MemoriesDecayed
		total.DurationMs += r.DurationMs
	}
	return total, nil
}

// --- Ingestion passthroughs (spec.md §4.5, mounted for completeness) ---

func (s *Surface) IngestFile(ctx context.Context, workspaceID, path string) (ingest.Report, error) {
	return s.ingest.IngestFile(ctx, workspaceID, path)
}

func (s *Surface) IngestProject(ctx context.Context, workspaceID, hostRoot string, cfg config.ImportConfig) (ingest.Report, error) {
	return s.ingest.IngestProject(ctx, workspaceID, hostRoot, cfg)
}
