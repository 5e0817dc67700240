// Package ranking computes priority scores for queued items.
package ranking

import (
	"time"

	"github.com/azure/arxiv-poster-bot/internal/models"
)

// Defaults used when a Ranker field is left zero by configuration.
const (
	DefaultPopularityWeight = 10.0
	DefaultRecencyBonus     = 5.0
	DefaultCategoryBonus    = 3.0
	DefaultRecencyWindow    = 24 * time.Hour
)

// DefaultPreferredCategories are the core AI/LLM categories.
var DefaultPreferredCategories = []string{"cs.AI", "cs.LG", "cs.CL"}

// Ranker scores items. It holds no mutable state, so a value can be shared by goroutines.
type Ranker struct {
	PopularityWeight float64
	RecencyBonus     float64
	CategoryBonus    float64
	RecencyWindow    time.Duration
	preferred        map[string]struct{}
}

// New builds a Ranker with the given weights and preferred categories.
func New(popularityWeight, recencyBonus, categoryBonus float64, preferred []string) Ranker {
	r := Ranker{
		PopularityWeight: popularityWeight,
		RecencyBonus:     recencyBonus,
		CategoryBonus:    categoryBonus,
		RecencyWindow:    DefaultRecencyWindow,
		preferred:        make(map[string]struct{}, len(preferred)),
	}
	for _, c := range preferred {
		r.preferred[c] = struct{}{}
	}
	return r
}

// Default returns a Ranker with the stock weights.
func Default() Ranker {
	return New(DefaultPopularityWeight, DefaultRecencyBonus, DefaultCategoryBonus, DefaultPreferredCategories)
}

// Score returns popularity*weight + recency bonus + category bonus, evaluated at now.
// An item that has not been enriched scores as zero popularity.
func (r Ranker) Score(item models.Item, now time.Time) float64 {
	return item.PopularityValue()*r.PopularityWeight +
		r.recencyBonus(item.PublishedAt, now) +
		r.categoryBonus(item.Categories)
}

func (r Ranker) recencyBonus(published, now time.Time) float64 {
	if published.IsZero() || published.Unix() <= 0 {
		return 0
	}
	age := now.Sub(published)
	if age < 0 || age >= r.window() {
		return 0
	}
	return r.RecencyBonus
}

func (r Ranker) categoryBonus(categories []string) float64 {
	for _, c := range categories {
		if _, ok := r.preferred[c]; ok {
			return r.CategoryBonus
		}
	}
	return 0
}

func (r Ranker) window() time.Duration {
	if r.RecencyWindow <= 0 {
		return DefaultRecencyWindow
	}
	return r.RecencyWindow
}
