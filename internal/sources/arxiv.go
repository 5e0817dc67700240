package sources

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// DefaultArxivAPIURL is the public arXiv query endpoint
const DefaultArxivAPIURL = "https://export.arxiv.org/api/query"

const arxivDateLayout = "200601021504"

// ArxivSource queries the arXiv Atom API with one combined category filter
type ArxivSource struct {
	client     *resty.Client
	endpoint   string
	retryDelay time.Duration
}

// Ensure ArxivSource implements Catalog
var _ Catalog = (*ArxivSource)(nil)

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string         `xml:"id"`
	Title     string         `xml:"title"`
	Summary   string         `xml:"summary"`
	Published string         `xml:"published"`
	Authors   []atomAuthor   `xml:"author"`
	Links     []atomLink     `xml:"link"`
	Category  []atomCategory `xml:"category"`
	DOI       string         `xml:"http://arxiv.org/schemas/atom doi"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("arXiv API returned status %d", e.code)
}

// NewArxivSource creates an arXiv API source. An empty endpoint uses DefaultArxivAPIURL.
func NewArxivSource(endpoint string) *ArxivSource {
	if endpoint == "" {
		endpoint = DefaultArxivAPIURL
	}
	return &ArxivSource{
		client: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", "arXiv-Poster-Bot/1.0"),
		endpoint:   endpoint,
		retryDelay: 3 * time.Second,
	}
}

func (a *ArxivSource) GetName() string {
	return "arxiv"
}

// Query fetches papers submitted inside the window, newest first
func (a *ArxivSource) Query(ctx context.Context, q Query) ([]Record, error) {
	if len(q.Categories) == 0 {
		return nil, fmt.Errorf("no categories requested")
	}
	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = 50
	}

	searchQuery := buildSearchQuery(q.Categories, q.Since, q.Until)
	logrus.Debugf("arXiv query: %s", searchQuery)

	var body []byte
	err := retry.Do(
		func() error {
			resp, err := a.client.R().
				SetContext(ctx).
				SetQueryParams(map[string]string{
					"search_query": searchQuery,
					"start":        "0",
					"max_results":  strconv.Itoa(maxResults),
					"sortBy":       "submittedDate",
					"sortOrder":    "descending",
				}).
				Get(a.endpoint)
			if err != nil {
				return err
			}
			if resp.StatusCode() != http.StatusOK {
				return &statusError{code: resp.StatusCode()}
			}
			body = resp.Body()
			return nil
		},
		retry.Attempts(3),
		retry.Delay(a.retryDelay),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			logrus.Warnf("Retrying arXiv query (attempt %d): %v", n+1, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("arXiv query failed: %w", err)
	}

	records, err := parseAtom(body)
	if err != nil {
		return nil, err
	}

	logrus.Infof("Found %d papers from arXiv", len(records))
	return records, nil
}

func buildSearchQuery(categories []string, since, until time.Time) string {
	cats := make([]string, 0, len(categories))
	for _, c := range categories {
		cats = append(cats, "cat:"+c)
	}
	query := "(" + strings.Join(cats, " OR ") + ")"
	if !since.IsZero() && !until.IsZero() {
		query += fmt.Sprintf(" AND submittedDate:[%s TO %s]",
			since.UTC().Format(arxivDateLayout), until.UTC().Format(arxivDateLayout))
	}
	return query
}

func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return !errors.Is(err, context.Canceled)
}

func parseAtom(body []byte) ([]Record, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse arXiv response: %w", err)
	}

	records := make([]Record, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		rec := Record{
			Source:    "arxiv",
			RawID:     e.ID,
			Title:     e.Title,
			Summary:   e.Summary,
			Published: e.Published,
			DOI:       e.DOI,
		}
		for _, au := range e.Authors {
			rec.Authors = append(rec.Authors, au.Name)
		}
		for _, c := range e.Category {
			rec.Categories = append(rec.Categories, c.Term)
		}
		for _, l := range e.Links {
			switch {
			case l.Title == "pdf" || l.Type == "application/pdf":
				rec.PDFLink = l.Href
			case l.Rel == "alternate":
				rec.Link = l.Href
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
