// Package discovery pulls candidate papers from a catalog, enriches and scores them,
// and merges them into the posting queue.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/enrichment"
	"github.com/azure/arxiv-poster-bot/internal/models"
	"github.com/azure/arxiv-poster-bot/internal/queue"
	"github.com/azure/arxiv-poster-bot/internal/ranking"
	"github.com/azure/arxiv-poster-bot/internal/sources"
	"github.com/sirupsen/logrus"
)

// DefaultCallTimeout bounds each catalog and enrichment call
const DefaultCallTimeout = 30 * time.Second

// Window is the submission-time range a discovery pass covers
type Window struct {
	Since time.Time
	Until time.Time
}

// Result summarises one discovery pass
type Result struct {
	Fetched       int
	Unique        int
	Rejected      int
	AlreadyPosted int
	InFlight      int
	Enriched      int
	EnrichFailed  int
	Added         int
	Refreshed     int
	Items         []models.Item
}

// Pipeline runs discovery passes against one catalog.
type Pipeline struct {
	catalog     sources.Catalog
	enricher    enrichment.Enricher
	store       *queue.Store
	scorer      queue.Scorer
	callTimeout time.Duration
	maxResults  int
	now         func() time.Time
}

// NewPipeline wires a pipeline. A nil enricher leaves every item unenriched; a nil
// scorer uses the default ranking.
func NewPipeline(catalog sources.Catalog, enricher enrichment.Enricher, store *queue.Store, scorer queue.Scorer, callTimeout time.Duration, maxResults int) *Pipeline {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	if scorer == nil {
		scorer = ranking.Default()
	}
	return &Pipeline{
		catalog:     catalog,
		enricher:    enricher,
		store:       store,
		scorer:      scorer,
		callTimeout: callTimeout,
		maxResults:  maxResults,
		now:         time.Now,
	}
}

// SetClock replaces the time source used for scoring and discovery timestamps
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// CatalogName returns the configured catalog's name
func (p *Pipeline) CatalogName() string {
	return p.catalog.GetName()
}

// Discover queries the catalog for the window and upserts the results into the queue.
// A catalog failure returns an error and leaves the queue untouched; enrichment failures
// only leave the affected items unenriched.
func (p *Pipeline) Discover(ctx context.Context, window Window, categories []string) (Result, error) {
	var res Result

	queryCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	records, err := p.catalog.Query(queryCtx, sources.Query{
		Categories: categories,
		Since:      window.Since,
		Until:      window.Until,
		MaxResults: p.maxResults,
	})
	cancel()
	if err != nil {
		return res, fmt.Errorf("catalog %s: %w", p.catalog.GetName(), err)
	}
	res.Fetched = len(records)

	discoveredAt := p.now()
	seen := make(map[string]struct{}, len(records))
	var items []models.Item
	for _, rec := range records {
		item, err := sources.ToItem(rec, discoveredAt)
		if err != nil {
			res.Rejected++
			logrus.Debugf("Rejected catalog record: %v", err)
			continue
		}
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		res.Unique++

		if p.store.Contains(item.ID) {
			res.AlreadyPosted++
			continue
		}
		items = append(items, item)
	}

	for i := range items {
		if ctx.Err() != nil {
			// shutting down: queue what we have without further lookups
			res.EnrichFailed += len(items) - i
			break
		}
		if p.enrich(ctx, &items[i]) {
			res.Enriched++
		} else {
			res.EnrichFailed++
		}
	}

	now := p.now()
	for i := range items {
		items[i].PriorityScore = p.scorer.Score(items[i], now)
	}

	absorbed := p.store.Absorb(items)
	res.Added = absorbed.Added
	res.Refreshed = absorbed.Refreshed
	res.AlreadyPosted += absorbed.AlreadyPosted
	res.InFlight = absorbed.InFlight
	res.Items = items

	logrus.WithFields(logrus.Fields{
		"catalog":        p.catalog.GetName(),
		"fetched":        res.Fetched,
		"unique":         res.Unique,
		"rejected":       res.Rejected,
		"already_posted": res.AlreadyPosted,
		"added":          res.Added,
		"refreshed":      res.Refreshed,
		"enriched":       res.Enriched,
		"enrich_failed":  res.EnrichFailed,
	}).Info("Discovery pass complete")

	return res, nil
}

// enrich performs one bounded lookup. Not found means enriched with zero attention.
func (p *Pipeline) enrich(ctx context.Context, item *models.Item) bool {
	if p.enricher == nil {
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	att, err := p.enricher.Lookup(callCtx, *item)
	switch {
	case err == nil:
		item.SetAttention(att, p.now())
		return true
	case errors.Is(err, enrichment.ErrNotFound):
		item.SetAttention(models.Attention{}, p.now())
		return true
	default:
		logrus.Warnf("Enrichment failed for %s, queueing without popularity: %v", item.ID, err)
		return false
	}
}
