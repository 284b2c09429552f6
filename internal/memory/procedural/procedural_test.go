package procedural

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cogmem/engine/internal/config"
	"github.com/cogmem/engine/internal/storage"
	"github.com/cogmem/engine/internal/types"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(context.Background(), config.StorageConfig{
		ConnectionMode: config.ConnectionModeMemory,
		Pool:           config.PoolConfig{Max: 1},
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreAndGetPattern(t *testing.T) {
	s := New(openTestStore(t))
	ctx := context.Background()

	created, err := s.StorePattern(ctx, types.Pattern{
		WorkspaceID: "ws1", PatternType: "refactor", Description: "extract interfaces",
		Solution: "pull the shared method set into an interface", Confidence: 0.7,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, 1, created.Version)

	fetched, err := s.GetPattern(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "extract interfaces", fetched.Description)
}

func TestStorePatternIncrementsVersionOnUpdate(t *testing.T) {
	s := New(openTestStore(t))
	ctx := context.Background()

	created, err := s.StorePattern(ctx, types.Pattern{WorkspaceID: "ws1", PatternType: "refactor"})
	require.NoError(t, err)
	require.Equal(t, 1, created.Version)

	updated, err := s.StorePattern(ctx, created)
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version)
}

func TestGetPatternNotFound(t *testing.T) {
	s := New(openTestStore(t))
	_, err := s.GetPattern(context.Background(), "nope")
	require.Error(t, err)
}

func TestSearchPatternsFiltersByConfidenceFloor(t *testing.T) {
	s := New(openTestStore(t))
	ctx := context.Background()

	_, err := s.StorePattern(ctx, types.Pattern{WorkspaceID: "ws1", PatternType: "refactor", Confidence: 0.9, Description: "low risk"})
	require.NoError(t, err)
	_, err = s.StorePattern(ctx, types.Pattern{WorkspaceID: "ws1", PatternType: "refactor", Confidence: 0.1, Description: "low confidence"})
	require.NoError(t, err)

	results, err := s.SearchPatterns(ctx, "ws1", "", "refactor", 0.5, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "low risk", results[0].Description)
}

func TestSearchPatternsFiltersByType(t *testing.T) {
	s := New(openTestStore(t))
	ctx := context.Background()

	_, err := s.StorePattern(ctx, types.Pattern{WorkspaceID: "ws1", PatternType: "refactor", Confidence: 0.8})
	require.NoError(t, err)
	_, err = s.StorePattern(ctx, types.Pattern{WorkspaceID: "ws1", PatternType: "debug", Confidence: 0.8})
	require.NoError(t, err)

	results, err := s.SearchPatterns(ctx, "ws1", "", "debug", 0, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "debug", results[0].PatternType)
}

func TestSearchPatternsOrdersByConfidenceDescending(t *testing.T) {
	s := New(openTestStore(t))
	ctx := context.Background()

	_, err := s.StorePattern(ctx, types.Pattern{WorkspaceID: "ws1", PatternType: "refactor", Confidence: 0.3})
	require.NoError(t, err)
	_, err = s.StorePattern(ctx, types.Pattern{WorkspaceID: "ws1", PatternType: "refactor", Confidence: 0.9})
	require.NoError(t, err)

	results, err := s.SearchPatterns(ctx, "ws1", "", "refactor", 0, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, 0.9, results[0].Confidence)
	require.Equal(t, 0.3, results[1].Confidence)
}

func TestApplyPatternDoesNotMutateStats(t *testing.T) {
	s := New(openTestStore(t))
	ctx := context.Background()

	created, err := s.StorePattern(ctx, types.Pattern{
		WorkspaceID: "ws1", PatternType: "refactor", Solution: "do the thing", UsageCount: 3, SuccessRate: 0.6,
	})
	require.NoError(t, err)

	report, err := s.ApplyPattern(ctx, created.ID, "applying to module X")
	require.NoError(t, err)
	require.True(t, report.Applied)
	require.Equal(t, "do the thing", report.Solution)

	fetched, err := s.GetPattern(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), fetched.UsageCount)
	require.Equal(t, 0.6, fetched.SuccessRate)
}

func TestUpdatePatternStatsRunningAverage(t *testing.T) {
	s := New(openTestStore(t))
	ctx := context.Background()

	created, err := s.StorePattern(ctx, types.Pattern{
		WorkspaceID: "ws1", PatternType: "refactor", UsageCount: 0, SuccessRate: 0,
	})
	require.NoError(t, err)

	updated, err := s.UpdatePatternStats(ctx, created.ID, 1.0)
	require.NoError(t, err)
	require.Equal(t, int64(1), updated.UsageCount)
	require.Equal(t, 1.0, updated.SuccessRate)

	updated, err = s.UpdatePatternStats(ctx, updated.ID, 0.0)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.UsageCount)
	require.Equal(t, 0.5, updated.SuccessRate)
}
