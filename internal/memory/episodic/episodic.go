// Package episodic implements episodic memory (spec.md §4.4.2): an
// append-mostly log of episode records with a deterministic blended
// search ranking. Grounded on the teacher's internal/store session/trace
// tables (session_history, reasoning_traces) generalized to spec.md §3's
// Episode record shape.
package episodic

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cogmem/engine/internal/config"
	"github.com/cogmem/engine/internal/engerr"
	"github.com/cogmem/engine/internal/storage"
	"github.com/cogmem/engine/internal/types"
)

const table = "episodes"

// Store is the episodic memory tier.
type Store struct {
	store  *storage.Store
	weight config.EpisodicConfig
}

// New returns an episodic memory tier backed by store, ranking search
// results with the configured weights.
func New(store *storage.Store, weights config.EpisodicConfig) *Store {
	return &Store{store: store, weight: weights}
}

// RememberEpisode persists a new episode, assigning an ID if absent.
func (s *Store) RememberEpisode(ctx context.Context, ep types.Episode) (types.Episode, error) {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	now := time.Now()
	ep.CreatedAt = now
	ep.LastAccessedAt = now
	if ep.Importance == 0 {
		ep.Importance = 0.5
	}

	data, err := json.Marshal(ep)
	if err != nil {
		return types.Episode{}, fmt.Errorf("episodic: marshal: %w", err)
	}
	rec := storage.Record{
		ID:      ep.ID,
		Content: data,
		Indexed: map[string]string{
			"workspace_id": ep.WorkspaceID,
			"agent_id":     ep.AgentID,
			"episode_type": ep.EpisodeType,
		},
	}
	if err := s.store.Upsert(ctx, table, rec); err != nil {
		return types.Episode{}, err
	}
	return ep, nil
}

// GetEpisode retrieves an episode by ID and bumps its access bookkeeping.
func (s *Store) GetEpisode(ctx context.Context, id string) (types.Episode, error) {
	rec, found, err := s.store.Get(ctx, table, id)
	if err != nil {
		return types.Episode{}, err
	}
	if !found {
		return types.Episode{}, &engerr.NotFound{Kind: "episode", Key: id}
	}
	var ep types.Episode
	if err := json.Unmarshal(rec.Content, &ep); err != nil {
		return types.Episode{}, fmt.Errorf("episodic: unmarshal %s: %w", id, err)
	}

	ep.AccessCount++
	ep.LastAccessedAt = time.Now()
	if err := s.persist(ctx, ep); err != nil {
		return types.Episode{}, err
	}
	return ep, nil
}

func (s *Store) persist(ctx context.Context, ep types.Episode) error {
	data, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("episodic: marshal %s: %w", ep.ID, err)
	}
	return s.store.Upsert(ctx, table, storage.Record{
		ID:      ep.ID,
		Content: data,
		Indexed: map[string]string{
			"workspace_id": ep.WorkspaceID,
			"agent_id":     ep.AgentID,
			"episode_type": ep.EpisodeType,
		},
	})
}

// ShareEpisode appends recipients to an episode's shared-with list.
func (s *Store) ShareEpisode(ctx context.Context, id string, recipients []string) (types.Episode, error) {
	rec, found, err := s.store.Get(ctx, table, id)
	if err != nil {
		return types.Episode{}, err
	}
	if !found {
		return types.Episode{}, &engerr.NotFound{Kind: "episode", Key: id}
	}
	var ep types.Episode
	if err := json.Unmarshal(rec.Content, &ep); err != nil {
		return types.Episode{}, err
	}

	seen := make(map[string]bool, len(ep.SharedWith))
	for _, r := range ep.SharedWith {
		seen[r] = true
	}
	for _, r := range recipients {
		if !seen[r] {
			ep.SharedWith = append(ep.SharedWith, r)
			seen[r] = true
		}
	}
	if err := s.persist(ctx, ep); err != nil {
		return types.Episode{}, err
	}
	return ep, nil
}

// scored pairs an episode with its search score for ranking.
type scored struct {
	ep    types.Episode
	score float64
}

// SearchEpisodes ranks episodes in workspace by a deterministic blend of
// textual match, recency, importance, and access count (spec.md §4.4.2).
func (s *Store) SearchEpisodes(ctx context.Context, workspaceID, query string, limit int) ([]types.Episode, error) {
	recs, err := s.store.SelectByIndex(ctx, table, "workspace_id", workspaceID)
	if err != nil {
		return nil, err
	}

	queryTokens := tokenize(query)
	now := time.Now()

	var candidates []scored
	for _, rec := range recs {
		var ep types.Episode
		if err := json.Unmarshal(rec.Content, &ep); err != nil {
			continue
		}
		candidates = append(candidates, scored{ep: ep, score: s.rank(ep, queryTokens, now)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].ep.ID < candidates[j].ep.ID
	})

	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]types.Episode, 0, limit)
	for _, c := range candidates[:limit] {
		out = append(out, c.ep)
	}
	return out, nil
}

func (s *Store) rank(ep types.Episode, queryTokens map[string]bool, now time.Time) float64 {
	text := ep.TaskDescription + " " + strings.Join(ep.LessonsLearned, " ")
	textScore := bigramOverlap(queryTokens, tokenize(text))

	ageSeconds := now.Sub(ep.LastAccessedAt).Seconds()
	recencyScore := 1.0 / (1.0 + ageSeconds/3600.0)

	accessScore := 1.0 - 1.0/(1.0+float64(ep.AccessCount))

	return s.weight.TextMatchWeight*textScore +
		s.weight.RecencyWeight*recencyScore +
		s.weight.ImportanceWeight*ep.Importance +
		s.weight.AccessCountWeight*accessScore
}

// tokenize lowercases and splits on non-alphanumeric runs, returning a
// bigram set so overlap is order-sensitive at the word-pair level.
func tokenize(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	bigrams := make(map[string]bool)
	if len(words) == 0 {
		return bigrams
	}
	if len(words) == 1 {
		bigrams[words[0]] = true
		return bigrams
	}
	for i := 0; i < len(words)-1; i++ {
		bigrams[words[i]+"_"+words[i+1]] = true
	}
	return bigrams
}

func bigramOverlap(query, candidate map[string]bool) float64 {
	if len(query) == 0 || len(candidate) == 0 {
		return 0
	}
	hits := 0
	for k := range query {
		if candidate[k] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// ReplayFromMemory returns the most recent episodes for an agent, most
// recent first, for context-window replay. sessionID is accepted but not
// used for filtering: episodes carry no session field.
func (s *Store) ReplayFromMemory(ctx context.Context, agentID, sessionID string, limit int) ([]types.Episode, error) {
	recs, err := s.store.SelectByIndex(ctx, table, "agent_id", agentID)
	if err != nil {
		return nil, err
	}

	var episodes []types.Episode
	for _, rec := range recs {
		var ep types.Episode
		if err := json.Unmarshal(rec.Content, &ep); err != nil {
			continue
		}
		episodes = append(episodes, ep)
	}

	sort.Slice(episodes, func(i, j int) bool { return episodes[i].CreatedAt.After(episodes[j].CreatedAt) })

	if limit <= 0 || limit > len(episodes) {
		limit = len(episodes)
	}
	return episodes[:limit], nil
}
