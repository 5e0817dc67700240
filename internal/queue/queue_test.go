package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedScorer returns a preset score per id.
type fixedScorer map[string]float64

func (f fixedScorer) Score(item models.Item, _ time.Time) float64 {
	return f[item.ID]
}

var (
	day1 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	day2 = day1.Add(24 * time.Hour)
	day3 = day2.Add(24 * time.Hour)
	now  = day3.Add(48 * time.Hour)
)

func ids(items []models.Item) []string {
	out := make([]string, 0, len(items))
	for _, i := range items {
		out = append(out, i.ID)
	}
	return out
}

func TestStore_PeekOrdering(t *testing.T) {
	store := NewStore(fixedScorer{"A": 10, "B": 10, "C": 5})
	store.Absorb([]models.Item{
		{ID: "A", PublishedAt: day2},
		{ID: "B", PublishedAt: day1},
		{ID: "C", PublishedAt: day3},
	})

	assert.Equal(t, []string{"B", "A", "C"}, ids(store.Peek(3, now)))
}

func TestStore_TieBreakByIdentifier(t *testing.T) {
	store := NewStore(fixedScorer{})
	store.Absorb([]models.Item{
		{ID: "z", PublishedAt: day1},
		{ID: "a", PublishedAt: day1},
		{ID: "m", PublishedAt: day1},
	})

	assert.Equal(t, []string{"a", "m", "z"}, ids(store.Peek(0, now)))
	assert.Equal(t, []string{"a", "m"}, ids(store.Peek(2, now)))
}

func TestStore_PeekDoesNotMutate(t *testing.T) {
	store := NewStore(fixedScorer{"A": 1})
	store.Absorb([]models.Item{{ID: "A"}})

	store.Peek(1, now)
	q, f, p := store.Stats()
	assert.Equal(t, 1, q)
	assert.Equal(t, 0, f)
	assert.Equal(t, 0, p)
}

func TestStore_PopBestEmpty(t *testing.T) {
	store := NewStore(nil)
	_, err := store.PopBest(now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PopMarkPosted(t *testing.T) {
	store := NewStore(fixedScorer{"A": 2, "B": 1})
	store.Absorb([]models.Item{{ID: "A"}, {ID: "B"}})

	item, err := store.PopBest(now)
	require.NoError(t, err)
	assert.Equal(t, "A", item.ID)
	assert.False(t, store.Contains("A"))

	require.NoError(t, store.MarkPosted("A", now))
	assert.True(t, store.Contains("A"))
	assert.Equal(t, []string{"B"}, ids(store.Peek(0, now)))

	assert.ErrorIs(t, store.MarkPosted("A", now), ErrNotInFlight)
	assert.ErrorIs(t, store.MarkPosted("B", now), ErrNotInFlight)
}

func TestStore_RequeueAfterFailure(t *testing.T) {
	store := NewStore(fixedScorer{"A": 2, "B": 1})
	store.Absorb([]models.Item{{ID: "A"}, {ID: "B"}})

	item, err := store.PopBest(now)
	require.NoError(t, err)
	require.NoError(t, store.Requeue(item.ID))

	assert.Equal(t, []string{"A", "B"}, ids(store.Peek(0, now)))
	assert.False(t, store.Contains("A"))
	assert.ErrorIs(t, store.Requeue("A"), ErrNotInFlight)
}

func TestStore_AbsorbIsIdempotent(t *testing.T) {
	store := NewStore(fixedScorer{"A": 1, "B": 2})
	batch := []models.Item{{ID: "A", Title: "a"}, {ID: "B", Title: "b"}}

	first := store.Absorb(batch)
	assert.Equal(t, 2, first.Added)

	second := store.Absorb(batch)
	assert.Equal(t, 0, second.Added)
	assert.Equal(t, 2, second.Refreshed)

	assert.Equal(t, []string{"B", "A"}, ids(store.Peek(0, now)))
}

func TestStore_AbsorbSkipsPostedAndInFlight(t *testing.T) {
	store := NewStore(fixedScorer{"A": 2, "B": 1})
	store.Absorb([]models.Item{{ID: "A"}, {ID: "B"}})

	a, err := store.PopBest(now)
	require.NoError(t, err)
	require.NoError(t, store.MarkPosted(a.ID, now))
	b, err := store.PopBest(now)
	require.NoError(t, err)

	res := store.Absorb([]models.Item{{ID: "A"}, {ID: "B"}, {ID: "C"}})
	assert.Equal(t, 1, res.AlreadyPosted)
	assert.Equal(t, 1, res.InFlight)
	assert.Equal(t, 1, res.Added)

	_, queuedA := store.Queued("A")
	assert.False(t, queuedA)
	_, queuedB := store.Queued(b.ID)
	assert.False(t, queuedB)
}

func TestStore_AbsorbKeepsEnrichmentAndDiscoveryTime(t *testing.T) {
	store := NewStore(nil)
	score := 4.0
	first := models.Item{ID: "A", Popularity: &score, DiscoveredAt: day1}
	store.Absorb([]models.Item{first})

	store.Absorb([]models.Item{{ID: "A", Title: "updated", DiscoveredAt: day3}})

	got, ok := store.Queued("A")
	require.True(t, ok)
	assert.Equal(t, "updated", got.Title)
	assert.Equal(t, day1, got.DiscoveredAt)
	require.NotNil(t, got.Popularity)
	assert.Equal(t, 4.0, *got.Popularity)
}

func TestStore_ExportIncludesInFlight(t *testing.T) {
	store := NewStore(fixedScorer{"A": 2, "B": 1})
	store.Absorb([]models.Item{{ID: "A"}, {ID: "B"}})
	_, err := store.PopBest(now)
	require.NoError(t, err)

	items, posted := store.Export(now)
	assert.ElementsMatch(t, []string{"A", "B"}, ids(items))
	assert.Empty(t, posted)
}

func TestStore_RestoreEnforcesInvariants(t *testing.T) {
	store := NewStore(nil)
	store.Restore(
		[]models.Item{{ID: "A"}, {ID: "B"}, {ID: "A"}, {ID: ""}},
		map[string]time.Time{"B": day1},
	)

	q, f, p := store.Stats()
	assert.Equal(t, 1, q)
	assert.Equal(t, 0, f)
	assert.Equal(t, 1, p)
	assert.True(t, store.Contains("B"))
}

func TestStore_Prune(t *testing.T) {
	store := NewStore(nil)
	store.Restore(nil, map[string]time.Time{"old": day1, "new": day3})

	removed := store.Prune(day2)
	assert.Equal(t, 1, removed)
	assert.False(t, store.Contains("old"))
	assert.True(t, store.Contains("new"))
}

// Randomised interleaving of discover/pop/post/requeue never breaks the invariants.
func TestStore_DedupInvariant(t *testing.T) {
	store := NewStore(fixedScorer{})
	postedOnce := map[string]int{}

	for round := 0; round < 50; round++ {
		var batch []models.Item
		for i := 0; i < 5; i++ {
			batch = append(batch, models.Item{ID: fmt.Sprintf("p%d", (round+i)%12)})
		}
		store.Absorb(batch)

		item, err := store.PopBest(now)
		if err != nil {
			continue
		}
		if round%3 == 0 {
			require.NoError(t, store.Requeue(item.ID))
		} else {
			require.NoError(t, store.MarkPosted(item.ID, now))
			postedOnce[item.ID]++
		}

		for _, queued := range store.Peek(0, now) {
			assert.False(t, store.Contains(queued.ID), "id %s both queued and posted", queued.ID)
		}
	}

	for id, n := range postedOnce {
		assert.Equal(t, 1, n, "id %s posted more than once", id)
	}
}
