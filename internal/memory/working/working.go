// Package working implements bounded, priority-aware working memory
// (spec.md §4.4.1): a thread-safe, session-scoped, non-persisted cache.
// Grounded on the teacher's internal/context/activation.go LRU-with-
// priority shape, generalized from activation scores to the spec's
// explicit {max_items, max_bytes, ttl} budgets and four-level priority.
package working

import (
	"sync"
	"time"

	"github.com/cogmem/engine/internal/engerr"
	"github.com/cogmem/engine/internal/obslog"
	"github.com/cogmem/engine/internal/types"
	"go.uber.org/zap"
)

// Config bounds one Store's retention (spec.md §4.4.1).
type Config struct {
	Enabled  bool
	MaxItems int
	MaxBytes int64
	TTL      time.Duration
}

// Store is the bounded LRU-with-priority working-memory cache.
type Store struct {
	cfg Config
	log *zap.Logger

	mu        sync.RWMutex
	items     map[string]*types.WorkingItem
	totalSize int64
}

// New returns a Store governed by cfg. Disabled stores accept no items
// (spec.md §4.4.1: "if enabled=false, store is a no-op").
func New(cfg Config) *Store {
	return &Store{cfg: cfg, log: obslog.Get(obslog.CategoryMemory), items: make(map[string]*types.WorkingItem)}
}

// Store inserts or replaces key's content, evicting lower-priority,
// older items as needed to respect the configured budgets.
func (s *Store) Store(key, agentID, sessionID string, content []byte, priority types.Priority) error {
	if !s.cfg.Enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	size := int64(len(content))

	if existing, ok := s.items[key]; ok {
		s.totalSize -= existing.ByteSize
		delete(s.items, key)
	}

	if err := s.makeRoomLocked(size, priority); err != nil {
		// Restore nothing: the prior entry for key, if any, was already
		// removed above; the caller's store attempt simply fails.
		return err
	}

	s.items[key] = &types.WorkingItem{
		Key: key, AgentID: agentID, SessionID: sessionID, Content: content,
		Priority: priority, ByteSize: size, CreatedAt: now, LastAccessed: now,
	}
	s.totalSize += size
	return nil
}

// makeRoomLocked evicts items, lowest priority first then oldest
// last-access first, until incoming fits both the item-count and
// byte-size budgets (spec.md §4.4.1). Critical items are never evicted;
// if only critical items remain and the budget is still exceeded, a
// non-critical insert is rejected and a critical one is admitted over
// budget.
func (s *Store) makeRoomLocked(incomingSize int64, incomingPriority types.Priority) error {
	for s.overBudgetLocked(incomingSize) {
		victim := s.pickVictimLocked()
		if victim == "" {
			if incomingPriority == types.PriorityCritical {
				// Nothing left to evict and the incoming item is itself
				// critical: let it in over budget rather than reject it,
				// since critical items are never evicted once admitted.
				return nil
			}
			return &engerr.InvalidInput{What: "working memory budget exceeded and only critical items remain"}
		}
		evicted := s.items[victim]
		delete(s.items, victim)
		s.totalSize -= evicted.ByteSize
	}
	return nil
}

func (s *Store) overBudgetLocked(incomingSize int64) bool {
	if s.cfg.MaxBytes > 0 && s.totalSize+incomingSize > s.cfg.MaxBytes {
		return true
	}
	if s.cfg.MaxItems > 0 && len(s.items) >= s.cfg.MaxItems {
		return true
	}
	return false
}

// pickVictimLocked returns the key of the lowest-priority, then
// least-recently-accessed non-critical item, or "" if none remain.
func (s *Store) pickVictimLocked() string {
	var victim string
	var victimItem *types.WorkingItem
	for k, item := range s.items {
		if item.Priority == types.PriorityCritical {
			continue
		}
		if victimItem == nil ||
			item.Priority.Rank() < victimItem.Priority.Rank() ||
			(item.Priority.Rank() == victimItem.Priority.Rank() && item.LastAccessed.Before(victimItem.LastAccessed)) {
			victim, victimItem = k, item
		}
	}
	return victim
}

// Retrieve returns key's content and bumps its access bookkeeping.
// Disabled stores always return (nil, false) (spec.md §4.4.1).
func (s *Store) Retrieve(key string) ([]byte, bool) {
	if !s.cfg.Enabled {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if s.cfg.TTL > 0 && time.Since(item.CreatedAt) > s.cfg.TTL {
		delete(s.items, key)
		s.totalSize -= item.ByteSize
		return nil, false
	}
	item.LastAccessed = time.Now()
	item.AccessCount++
	return item.Content, true
}

// Clear removes every item.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*types.WorkingItem)
	s.totalSize = 0
}

// Cleanup removes every item past its TTL, returning the count removed.
func (s *Store) Cleanup() int {
	if s.cfg.TTL <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	now := time.Now()
	for k, item := range s.items {
		if now.Sub(item.CreatedAt) > s.cfg.TTL {
			delete(s.items, k)
			s.totalSize -= item.ByteSize
			removed++
		}
	}
	return removed
}

// Len reports the current resident item count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
