// Package queue holds the posting queue and the dedup store of posted identifiers.
//
// Every exported method on Store is one transaction under a single lock, so readers
// never observe a partially applied mutation.
package queue

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/models"
	"github.com/azure/arxiv-poster-bot/internal/ranking"
)

var (
	// ErrNotFound is returned by PopBest when the queue is empty.
	ErrNotFound = errors.New("queue is empty")
	// ErrNotInFlight is returned when an id was not handed out by PopBest.
	ErrNotInFlight = errors.New("item is not in flight")
)

// Scorer computes an item's priority at a point in time.
type Scorer interface {
	Score(item models.Item, now time.Time) float64
}

// AbsorbResult reports how a batch of discovered items changed the queue.
type AbsorbResult struct {
	Added         int
	Refreshed     int
	AlreadyPosted int
	InFlight      int
}

// Store is the posting queue plus the dedup store.
type Store struct {
	mu       sync.RWMutex
	scorer   Scorer
	queued   map[string]models.Item
	inFlight map[string]models.Item
	posted   map[string]time.Time
}

// NewStore creates an empty store ranked by scorer.
func NewStore(scorer Scorer) *Store {
	if scorer == nil {
		scorer = ranking.Default()
	}
	return &Store{
		scorer:   scorer,
		queued:   make(map[string]models.Item),
		inFlight: make(map[string]models.Item),
		posted:   make(map[string]time.Time),
	}
}

// Contains reports whether id is in the dedup store.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.posted[id]
	return ok
}

// Queued returns the queued copy of id, if any.
func (s *Store) Queued(id string) (models.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.queued[id]
	if !ok {
		return models.Item{}, false
	}
	return item.Clone(), true
}

// Absorb upserts discovered items keyed by identifier. Posted and in-flight ids are skipped.
// A re-discovered item keeps its original DiscoveredAt, and keeps the previous enrichment
// when the new copy could not be enriched.
func (s *Store) Absorb(items []models.Item) AbsorbResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res AbsorbResult
	for _, item := range items {
		if _, ok := s.posted[item.ID]; ok {
			res.AlreadyPosted++
			continue
		}
		if _, ok := s.inFlight[item.ID]; ok {
			res.InFlight++
			continue
		}

		item = item.Clone()
		if prev, ok := s.queued[item.ID]; ok {
			if !prev.DiscoveredAt.IsZero() {
				item.DiscoveredAt = prev.DiscoveredAt
			}
			if !item.IsEnriched() && prev.IsEnriched() {
				item.Popularity = prev.Popularity
				item.Attention = prev.Attention
				item.EnrichedAt = prev.EnrichedAt
			}
			res.Refreshed++
		} else {
			res.Added++
		}
		s.queued[item.ID] = item
	}
	return res
}

// Peek returns up to n items in posting order without mutating the queue.
// n <= 0 returns every queued item.
func (s *Store) Peek(n int, now time.Time) []models.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := s.ordered(now)
	if n > 0 && n < len(ordered) {
		ordered = ordered[:n]
	}
	return ordered
}

// PopBest removes the highest-priority item and marks it in flight.
func (s *Store) PopBest(now time.Time) (models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queued) == 0 {
		return models.Item{}, ErrNotFound
	}
	best := s.ordered(now)[0]
	delete(s.queued, best.ID)
	s.inFlight[best.ID] = best.Clone()
	return best, nil
}

// MarkPosted moves an in-flight id into the dedup store.
func (s *Store) MarkPosted(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inFlight[id]; !ok {
		return ErrNotInFlight
	}
	delete(s.inFlight, id)
	s.posted[id] = at
	return nil
}

// Requeue returns an in-flight item to the queue after a failed publish.
func (s *Store) Requeue(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.inFlight[id]
	if !ok {
		return ErrNotInFlight
	}
	delete(s.inFlight, id)
	s.queued[id] = item
	return nil
}

// Prune drops dedup entries posted before cutoff and returns how many were removed.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, at := range s.posted {
		if at.Before(cutoff) {
			delete(s.posted, id)
			removed++
		}
	}
	return removed
}

// Stats returns queue depth, in-flight count and dedup size in one read.
func (s *Store) Stats() (queued, inFlight, posted int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queued), len(s.inFlight), len(s.posted)
}

// Export returns a consistent copy of the queue (in-flight items included, so a crash
// mid-publish never drops them) and the dedup store.
func (s *Store) Export(now time.Time) ([]models.Item, map[string]time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.ordered(now)
	for _, item := range s.inFlight {
		items = append(items, item.Clone())
	}
	posted := make(map[string]time.Time, len(s.posted))
	for id, at := range s.posted {
		posted[id] = at
	}
	return items, posted
}

// Restore replaces the store contents, enforcing the queue/dedup invariants on the way in.
func (s *Store) Restore(items []models.Item, posted map[string]time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queued = make(map[string]models.Item, len(items))
	s.inFlight = make(map[string]models.Item)
	s.posted = make(map[string]time.Time, len(posted))
	for id, at := range posted {
		s.posted[id] = at
	}
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if _, ok := s.posted[item.ID]; ok {
			continue
		}
		s.queued[item.ID] = item.Clone()
	}
}

// ordered returns scored copies sorted by score desc, published asc, id asc. Caller holds the lock.
func (s *Store) ordered(now time.Time) []models.Item {
	items := make([]models.Item, 0, len(s.queued))
	for _, item := range s.queued {
		c := item.Clone()
		c.PriorityScore = s.scorer.Score(c, now)
		items = append(items, c)
	}
	sort.Slice(items, func(i, j int) bool {
		return Less(items[i], items[j])
	})
	return items
}

// Less orders two scored items for posting.
func Less(a, b models.Item) bool {
	if a.PriorityScore != b.PriorityScore {
		return a.PriorityScore > b.PriorityScore
	}
	if !a.PublishedAt.Equal(b.PublishedAt) {
		return a.PublishedAt.Before(b.PublishedAt)
	}
	return a.ID < b.ID
}
