// Package procedural implements procedural memory (spec.md §4.4.4):
// learned, generalized solution patterns. Grounded on the teacher's
// internal/store learned_store.go/learning.go pattern-table idiom,
// generalized to spec.md §3's Pattern record shape and running-average
// success-rate update formula.
package procedural

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cogmem/engine/internal/engerr"
	"github.com/cogmem/engine/internal/storage"
	"github.com/cogmem/engine/internal/types"
)

const table = "patterns"

// Store is the procedural memory tier.
type Store struct {
	store *storage.Store
}

// New returns a procedural memory tier backed by store.
func New(store *storage.Store) *Store {
	return &Store{store: store}
}

// StorePattern upserts a learned pattern, assigning an ID if absent.
func (s *Store) StorePattern(ctx context.Context, p types.Pattern) (types.Pattern, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
		p.Version = 1
	} else {
		p.Version++
	}
	p.UpdatedAt = now

	if err := s.persist(ctx, p); err != nil {
		return types.Pattern{}, err
	}
	return p, nil
}

func (s *Store) persist(ctx context.Context, p types.Pattern) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("procedural: marshal %s: %w", p.ID, err)
	}
	return s.store.Upsert(ctx, table, storage.Record{
		ID:      p.ID,
		Content: data,
		Indexed: map[string]string{
			"workspace_id": p.WorkspaceID,
			"pattern_type": p.PatternType,
		},
	})
}

// GetPattern retrieves a pattern by ID.
func (s *Store) GetPattern(ctx context.Context, id string) (types.Pattern, error) {
	rec, found, err := s.store.Get(ctx, table, id)
	if err != nil {
		return types.Pattern{}, err
	}
	if !found {
		return types.Pattern{}, &engerr.NotFound{Kind: "pattern", Key: id}
	}
	var p types.Pattern
	if err := json.Unmarshal(rec.Content, &p); err != nil {
		return types.Pattern{}, fmt.Errorf("procedural: unmarshal %s: %w", id, err)
	}
	return p, nil
}

// SearchPatterns returns patterns in workspace matching patternType (if
// non-empty) with confidence at or above minConfidence, ranked by
// confidence descending (spec.md §4.4.4: "patterns below a confidence
// floor are excluded from search").
func (s *Store) SearchPatterns(ctx context.Context, workspaceID, query, patternType string, minConfidence float64, limit int) ([]types.Pattern, error) {
	recs, err := s.store.SelectByIndex(ctx, table, "workspace_id", workspaceID)
	if err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(query)
	var matches []types.Pattern
	for _, rec := range recs {
		var p types.Pattern
		if err := json.Unmarshal(rec.Content, &p); err != nil {
			continue
		}
		if p.Confidence < minConfidence {
			continue
		}
		if patternType != "" && p.PatternType != patternType {
			continue
		}
		if queryLower != "" && !strings.Contains(strings.ToLower(p.Description), queryLower) &&
			!strings.Contains(strings.ToLower(p.Context), queryLower) {
			continue
		}
		matches = append(matches, p)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].ID < matches[j].ID
	})

	if limit <= 0 || limit > len(matches) {
		limit = len(matches)
	}
	return matches[:limit], nil
}

// ApplicationReport summarizes one apply_pattern call.
type ApplicationReport struct {
	PatternID string
	Applied   bool
	Solution  string
	Context   string
}

// ApplyPattern returns a pattern's solution unchanged, paired with
// applicationContext, without mutating stored usage statistics — callers report the outcome
// separately via UpdatePatternStats once the application's result is
// known (spec.md §4.4.4: apply_pattern -> application-report).
func (s *Store) ApplyPattern(ctx context.Context, id, applicationContext string) (ApplicationReport, error) {
	p, err := s.GetPattern(ctx, id)
	if err != nil {
		return ApplicationReport{}, err
	}
	return ApplicationReport{PatternID: p.ID, Applied: true, Solution: p.Solution, Context: applicationContext}, nil
}

// UpdatePatternStats updates success_rate as a running average and
// increments usage_count (spec.md §4.4.4: "new_rate = ((rate*usage) +
// outcome) / (usage+1)").
func (s *Store) UpdatePatternStats(ctx context.Context, id string, outcome float64) (types.Pattern, error) {
	p, err := s.GetPattern(ctx, id)
	if err != nil {
		return types.Pattern{}, err
	}

	p.SuccessRate = ((p.SuccessRate * float64(p.UsageCount)) + outcome) / float64(p.UsageCount+1)
	p.UsageCount++
	p.UpdatedAt = time.Now()

	if err := s.persist(ctx, p); err != nil {
		return types.Pattern{}, err
	}
	return p, nil
}
