// Package enrichment looks up popularity signals for discovered papers.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultAltmetricURL is the public Altmetric details endpoint
const DefaultAltmetricURL = "https://api.altmetric.com"

var (
	// ErrNotFound means the service has no record of the paper, i.e. zero attention
	ErrNotFound = errors.New("no attention data for item")
	// ErrRateLimited is returned on HTTP 429
	ErrRateLimited = errors.New("enrichment service rate limited")
)

// Enricher fetches the attention signal for a single item
type Enricher interface {
	Lookup(ctx context.Context, item models.Item) (models.Attention, error)
}

// AltmetricClient queries Altmetric by DOI first and then by arXiv id.
// Every HTTP request waits on the shared limiter.
type AltmetricClient struct {
	client  *resty.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
}

// Ensure AltmetricClient implements Enricher
var _ Enricher = (*AltmetricClient)(nil)

type altmetricResponse struct {
	Score    float64 `json:"score"`
	Tweeters int     `json:"cited_by_tweeters_count"`
	Posts    int     `json:"cited_by_posts_count"`
	Reddit   int     `json:"cited_by_rdts_count"`
	Feeds    int     `json:"cited_by_feeds_count"`
}

// NewAltmetricClient creates a client spacing requests at least delay apart.
// An empty baseURL uses DefaultAltmetricURL; delay <= 0 disables throttling.
func NewAltmetricClient(baseURL, apiKey string, delay time.Duration) *AltmetricClient {
	if baseURL == "" {
		baseURL = DefaultAltmetricURL
	}
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &AltmetricClient{
		client: resty.New().
			SetTimeout(15*time.Second).
			SetHeader("User-Agent", "arXiv-Poster-Bot/1.0"),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Lookup returns the item's attention. ErrNotFound means neither the DOI nor the
// arXiv id is known to Altmetric.
func (a *AltmetricClient) Lookup(ctx context.Context, item models.Item) (models.Attention, error) {
	if item.DOI != "" {
		att, err := a.fetch(ctx, "doi", item.DOI)
		if err == nil {
			return att, nil
		}
		if errors.Is(err, ErrRateLimited) || ctx.Err() != nil {
			return models.Attention{}, err
		}
		logrus.Debugf("Altmetric DOI lookup for %s failed, trying arXiv id: %v", item.ID, err)
	}

	return a.fetch(ctx, "arxiv", item.ID)
}

func (a *AltmetricClient) fetch(ctx context.Context, kind, key string) (models.Attention, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return models.Attention{}, fmt.Errorf("enrichment throttle: %w", err)
	}

	req := a.client.R().SetContext(ctx)
	if a.apiKey != "" {
		req.SetQueryParam("key", a.apiKey)
	}
	resp, err := req.Get(fmt.Sprintf("%s/v1/%s/%s", a.baseURL, kind, url.PathEscape(key)))
	if err != nil {
		return models.Attention{}, err
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return models.Attention{}, ErrNotFound
	case http.StatusTooManyRequests:
		return models.Attention{}, ErrRateLimited
	default:
		return models.Attention{}, fmt.Errorf("altmetric API returned status %d", resp.StatusCode())
	}

	var data altmetricResponse
	if err := json.Unmarshal(resp.Body(), &data); err != nil {
		return models.Attention{}, fmt.Errorf("failed to parse altmetric response: %w", err)
	}

	return models.Attention{
		Score:    data.Score,
		Tweeters: data.Tweeters,
		Posts:    data.Posts,
		Reddit:   data.Reddit,
		Feeds:    data.Feeds,
	}, nil
}
