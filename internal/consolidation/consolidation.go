// Package consolidation implements the periodic consolidation and decay
// task (spec.md §4.4.5): mines candidate patterns out of clustered
// episodes, decays episode importance, and prunes forgotten episodes.
// Grounded on the teacher's ticking background-loop idiom (e.g.
// internal/shards/system/world_model.go's time.NewTicker select loop),
// generalized from world-model rescanning to memory-tier upkeep.
package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cogmem/engine/internal/config"
	"github.com/cogmem/engine/internal/memory/episodic"
	"github.com/cogmem/engine/internal/memory/procedural"
	"github.com/cogmem/engine/internal/obslog"
	"github.com/cogmem/engine/internal/storage"
	"github.com/cogmem/engine/internal/types"
)

// Report summarizes one consolidation pass (spec.md §4.4.5).
type Report struct {
	EpisodesProcessed int
	PatternsExtracted int
	MemoriesDecayed   int
	DurationMs        int64
}

// Consolidator periodically mines patterns and decays episode importance.
type Consolidator struct {
	store      *storage.Store
	episodic   *episodic.Store
	procedural *procedural.Store
	cfg        config.ConsolidationConfig
	log        *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// New returns a Consolidator wired to the given memory tiers.
func New(store *storage.Store, ep *episodic.Store, proc *procedural.Store, cfg config.ConsolidationConfig) *Consolidator {
	return &Consolidator{
		store: store, episodic: ep, procedural: proc, cfg: cfg,
		log: obslog.Get(obslog.CategoryConsolidation),
	}
}

// Run starts the periodic background tick loop. It returns once Stop is
// called or ctx is cancelled.
func (c *Consolidator) Run(ctx context.Context) {
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	defer close(c.done)

	interval := c.cfg.Interval()
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			report, err := c.Tick(ctx, "")
			if err != nil {
				c.log.Warn("consolidation tick failed", zap.Error(err))
				continue
			}
			c.log.Info("consolidation tick complete",
				zap.Int("episodes_processed", report.EpisodesProcessed),
				zap.Int("patterns_extracted", report.PatternsExtracted),
				zap.Int("memories_decayed", report.MemoriesDecayed))
		}
	}
}

// Stop halts the background loop and waits for it to exit.
func (c *Consolidator) Stop() {
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
}

// Tick runs one consolidation pass for workspaceID (all workspaces when
// empty), implementing spec.md §4.4.5's three-step procedure.
func (c *Consolidator) Tick(ctx context.Context, workspaceID string) (Report, error) {
	start := time.Now()

	episodes, err := c.loadEpisodes(ctx, workspaceID)
	if err != nil {
		return Report{}, fmt.Errorf("consolidation: load episodes: %w", err)
	}

	patternsExtracted := c.extractPatterns(ctx, episodes)
	memoriesDecayed := c.decayAndPrune(ctx, episodes)

	return Report{
		EpisodesProcessed: len(episodes),
		PatternsExtracted: patternsExtracted,
		MemoriesDecayed:   memoriesDecayed,
		DurationMs:        time.Since(start).Milliseconds(),
	}, nil
}

func (c *Consolidator) loadEpisodes(ctx context.Context, workspaceID string) ([]types.Episode, error) {
	var recs []storage.Record
	var err error
	if workspaceID != "" {
		recs, err = c.store.SelectByIndex(ctx, "episodes", "workspace_id", workspaceID)
	} else {
		recs, err = c.store.SelectWhere(ctx, "episodes", nil)
	}
	if err != nil {
		return nil, err
	}

	episodes := make([]types.Episode, 0, len(recs))
	for _, rec := range recs {
		var ep types.Episode
		if err := json.Unmarshal(rec.Content, &ep); err != nil {
			continue
		}
		episodes = append(episodes, ep)
	}
	return episodes, nil
}

// extractPatterns clusters successful episodes by (episode_type, leading
// description token) and, for any cluster at or above
// pattern_min_cluster, emits a candidate pattern into procedural memory
// (spec.md §4.4.5, step 1).
func (c *Consolidator) extractPatterns(ctx context.Context, episodes []types.Episode) int {
	clusters := make(map[string][]types.Episode)
	for _, ep := range episodes {
		if ep.Outcome != types.OutcomeSuccess {
			continue
		}
		key := ep.EpisodeType + "|" + leadingToken(ep.TaskDescription)
		clusters[key] = append(clusters[key], ep)
	}

	minCluster := c.cfg.PatternMinCluster
	if minCluster <= 0 {
		minCluster = 5
	}

	extracted := 0
	for key, members := range clusters {
		if len(members) < minCluster {
			continue
		}
		pattern := c.buildPattern(key, members)
		if _, err := c.procedural.StorePattern(ctx, pattern); err != nil {
			c.log.Warn("consolidation: store extracted pattern failed", zap.Error(err))
			continue
		}
		extracted++
	}
	return extracted
}

func (c *Consolidator) buildPattern(key string, members []types.Episode) types.Pattern {
	parts := strings.SplitN(key, "|", 2)
	episodeType, token := parts[0], ""
	if len(parts) > 1 {
		token = parts[1]
	}

	var lessons []string
	seen := make(map[string]bool)
	for _, ep := range members {
		for _, l := range ep.LessonsLearned {
			if !seen[l] {
				lessons = append(lessons, l)
				seen[l] = true
			}
		}
	}

	return types.Pattern{
		WorkspaceID: members[0].WorkspaceID,
		PatternType: episodeType,
		Description: fmt.Sprintf("recurring successful %q episodes starting with %q", episodeType, token),
		Context:     token,
		Solution:    strings.Join(lessons, "; "),
		Confidence:  clusterConfidence(len(members)),
		SuccessRate: 1.0,
	}
}

func clusterConfidence(size int) float64 {
	// More occurrences raise confidence, asymptotically approaching 1.
	return 1 - 1/(1+float64(size)/5)
}

func leadingToken(description string) string {
	fields := strings.Fields(strings.ToLower(description))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// decayAndPrune applies exponential importance decay to every episode
// and deletes those that fall below the forget threshold (spec.md
// §4.4.5, steps 2-3).
func (c *Consolidator) decayAndPrune(ctx context.Context, episodes []types.Episode) int {
	lambda := c.cfg.DecayRateLambda
	threshold := c.cfg.ForgetThreshold
	now := time.Now()

	decayed := 0
	for _, ep := range episodes {
		deltaT := now.Sub(ep.LastAccessedAt).Seconds()
		ep.Importance = ep.Importance * math.Exp(-lambda*deltaT)

		if ep.Importance < threshold {
			if _, _, err := c.store.Delete(ctx, "episodes", ep.ID); err != nil {
				c.log.Warn("consolidation: prune episode failed", zap.String("id", ep.ID), zap.Error(err))
				continue
			}
			decayed++
			continue
		}

		data, err := json.Marshal(ep)
		if err != nil {
			continue
		}
		_ = c.store.Upsert(ctx, "episodes", storage.Record{
			ID:      ep.ID,
			Content: data,
			Indexed: map[string]string{
				"workspace_id": ep.WorkspaceID,
				"agent_id":     ep.AgentID,
				"episode_type": ep.EpisodeType,
			},
		})
	}
	return decayed
}
