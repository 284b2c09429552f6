package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogmem/engine/internal/config"
	"github.com/cogmem/engine/internal/consolidation"
	"github.com/cogmem/engine/internal/embedding"
	"github.com/cogmem/engine/internal/ingest"
	"github.com/cogmem/engine/internal/lang"
	"github.com/cogmem/engine/internal/memory/episodic"
	"github.com/cogmem/engine/internal/memory/procedural"
	"github.com/cogmem/engine/internal/memory/semantic"
	"github.com/cogmem/engine/internal/memory/working"
	"github.com/cogmem/engine/internal/storage"
	"github.com/cogmem/engine/internal/types"
	"github.com/cogmem/engine/internal/vfs"
)

func newTestSurface(t *testing.T) *Surface {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.ConnectionMode = config.ConnectionModeMemory

	store, err := storage.Open(context.Background(), cfg.Storage)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	v := vfs.New(store, vfs.Options{})
	registry := lang.NewRegistry()
	workingStore := working.New(working.Config{Enabled: true, MaxItems: 100, MaxBytes: 1 << 20})
	episodicStore := episodic.New(store, cfg.Episodic)
	semanticStore, err := semantic.New(store)
	require.NoError(t, err)
	proceduralStore := procedural.New(store)
	embedder := embedding.NewMock(cfg.Embedding)
	ingestPipeline := ingest.New(v, registry, semanticStore, embedder, cfg.Reparse)
	consolidator := consolidation.New(store, episodicStore, proceduralStore, cfg.Consolidation)

	return New(store, v, workingStore, episodicStore, semanticStore, proceduralStore, ingestPipeline, consolidator)
}

func TestCreateGetListUpdateDeleteWorkspace(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	ws, err := s.CreateWorkspace(ctx, types.Workspace{Name: "proj", Namespace: "default"})
	require.NoError(t, err)
	require.NotEmpty(t, ws.ID)

	got, err := s.GetWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, "proj", got.Name)

	list, err := s.ListWorkspaces(ctx, "default")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	got.Name = "renamed"
	updated, err := s.UpdateWorkspace(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	require.NoError(t, s.DeleteWorkspace(ctx, ws.ID))
	_, err = s.GetWorkspace(ctx, ws.ID)
	require.Error(t, err)
}

func TestWriteIngestAndQueryUnitsThroughSurface(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	ws, err := s.CreateWorkspace(ctx, types.Workspace{Name: "proj"})
	require.NoError(t, err)

	_, err = s.WriteFile(ctx, ws.ID, "src/lib.rs", []byte("pub fn add(a:i32,b:i32)->i32{a+b}"))
	require.NoError(t, err)

	report, err := s.IngestFile(ctx, ws.ID, "src/lib.rs")
	require.NoError(t, err)
	assert.Equal(t, 1, report.UnitsFound)

	units, err := s.QueryUnitsByFile(ctx, ws.ID, "src/lib.rs")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "add", units[0].Name)
}

func TestWorkingMemoryThroughSurface(t *testing.T) {
	s := newTestSurface(t)

	err := s.WorkingStore("agent1", "sess1", "k1", []byte("hello"), types.PriorityHigh)
	require.NoError(t, err)

	got, ok := s.WorkingRetrieve("k1")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)
}

func TestEpisodeLifecycleThroughSurface(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	ep, err := s.RememberEpisode(ctx, types.Episode{
		AgentID: "agent1", WorkspaceID: "ws1", EpisodeType: "task",
		TaskDescription: "fix the bug", Outcome: types.OutcomeSuccess, Importance: 0.8,
	})
	require.NoError(t, err)
	require.NotEmpty(t, ep.ID)

	got, err := s.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, "fix the bug", got.TaskDescription)

	results, err := s.SearchEpisodes(ctx, "ws1", "bug", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestPatternLifecycleThroughSurface(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	p, err := s.StorePattern(ctx, types.Pattern{
		WorkspaceID: "ws1", PatternType: "refactor", Description: "extract method",
		SuccessRate: 0.5, Confidence: 0.9,
	})
	require.NoError(t, err)

	report, err := s.ApplyPattern(ctx, p.ID, "some context")
	require.NoError(t, err)
	assert.True(t, report.Applied)

	updated, err := s.UpdatePatternStats(ctx, p.ID, 1.0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.UsageCount)
}

func TestConsolidateAndGCThroughSurface(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	ws, err := s.CreateWorkspace(ctx, types.Workspace{Name: "proj"})
	require.NoError(t, err)

	_, err = s.RememberEpisode(ctx, types.Episode{
		AgentID: "a1", WorkspaceID: ws.ID, EpisodeType: "task",
		TaskDescription: "did something", Outcome: types.OutcomeSuccess, Importance: 0.5,
	})
	require.NoError(t, err)

	report, err := s.Consolidate(ctx, ws.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.EpisodesProcessed, 1)

	gcReport, err := s.GC(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, gcReport.EpisodesProcessed, 1)
}
