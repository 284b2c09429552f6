package consolidation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cogmem/engine/internal/config"
	"github.com/cogmem/engine/internal/memory/episodic"
	"github.com/cogmem/engine/internal/memory/procedural"
	"github.com/cogmem/engine/internal/storage"
	"github.com/cogmem/engine/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionResetter"),
	)
}

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

func TestTickExtractsPatternFromRecurringEpisodes(t *testing.T) {
	store := openTestStore(t)
	ep := episodic.New(store, config.EpisodicConfig{TextMatchWeight: 1})
	proc := procedural.New(store)

	cfg := config.ConsolidationConfig{PatternMinCluster: 3, ForgetThreshold: -1}
	c := New(store, ep, proc, cfg)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := ep.RememberEpisode(ctx, types.Episode{
			WorkspaceID:      "ws1",
			AgentID:          "agent-1",
			EpisodeType:      "refactor",
			TaskDescription:  "refactor auth module cleanly",
			Outcome:          types.OutcomeSuccess,
			LessonsLearned:   []string{"extract interfaces early"},
			Importance:       0.8,
		})
		require.NoError(t, err)
	}

	report, err := c.Tick(ctx, "ws1")
	require.NoError(t, err)
	require.Equal(t, 3, report.EpisodesProcessed)
	require.Equal(t, 1, report.PatternsExtracted)

	patterns, err := proc.SearchPatterns(ctx, "ws1", "", "refactor", 0, 10)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	require.Contains(t, patterns[0].Solution, "extract interfaces early")
}

func TestTickBelowClusterThresholdExtractsNothing(t *testing.T) {
	store := openTestStore(t)
	ep := episodic.New(store, config.EpisodicConfig{TextMatchWeight: 1})
	proc := procedural.New(store)

	cfg := config.ConsolidationConfig{PatternMinCluster: 5, ForgetThreshold: -1}
	c := New(store, ep, proc, cfg)

	ctx := context.Background()
	_, err := ep.RememberEpisode(ctx, types.Episode{
		WorkspaceID: "ws1", AgentID: "agent-1", EpisodeType: "refactor",
		TaskDescription: "refactor auth module", Outcome: types.OutcomeSuccess, Importance: 0.8,
	})
	require.NoError(t, err)

	report, err := c.Tick(ctx, "ws1")
	require.NoError(t, err)
	require.Equal(t, 0, report.PatternsExtracted)
}

func TestTickPrunesBelowForgetThreshold(t *testing.T) {
	store := openTestStore(t)
	ep := episodic.New(store, config.EpisodicConfig{TextMatchWeight: 1})
	proc := procedural.New(store)

	cfg := config.ConsolidationConfig{PatternMinCluster: 100, DecayRateLambda: 1, ForgetThreshold: 0.5}
	c := New(store, ep, proc, cfg)

	ctx := context.Background()
	created, err := ep.RememberEpisode(ctx, types.Episode{
		WorkspaceID: "ws1", AgentID: "agent-1", EpisodeType: "debug",
		TaskDescription: "chase a flaky test", Outcome: types.OutcomeFailure, Importance: 0.9,
	})
	require.NoError(t, err)

	// Force the episode to look old enough that decay drops it below threshold.
	created.LastAccessedAt = time.Now().Add(-1 * time.Hour)
	data, err := json.Marshal(created)
	require.NoError(t, err)
	err = store.Upsert(ctx, "episodes", storage.Record{
		ID:      created.ID,
		Content: data,
		Indexed: map[string]string{"workspace_id": created.WorkspaceID, "agent_id": created.AgentID, "episode_type": created.EpisodeType},
	})
	require.NoError(t, err)

	report, err := c.Tick(ctx, "ws1")
	require.NoError(t, err)
	require.Equal(t, 1, report.MemoriesDecayed)

	_, err = ep.GetEpisode(ctx, created.ID)
	require.Error(t, err)
}

func TestRunStopsOnStop(t *testing.T) {
	store := openTestStore(t)
	ep := episodic.New(store, config.EpisodicConfig{TextMatchWeight: 1})
	proc := procedural.New(store)

	cfg := config.ConsolidationConfig{IntervalSecs: 3600}
	c := New(store, ep, proc, cfg)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	c.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
