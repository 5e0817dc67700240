package sources

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/models"
)

const arxivBaseURL = "https://arxiv.org"

// ErrInvalidRecord marks a catalog record that cannot be turned into an Item
var ErrInvalidRecord = errors.New("invalid catalog record")

// Record is a catalog entry exactly as the upstream returned it. Nothing outside this
// package reads a Record; ToItem is the only way in.
type Record struct {
	Source     string
	RawID      string // id or abs URL, possibly versioned
	Title      string
	Summary    string
	Authors    []string
	Categories []string
	Published  string
	Link       string
	PDFLink    string
	DOI        string
}

var publishedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"Mon, 2 Jan 2006",
	"2 Jan 2006",
	"2006-01-02",
}

// ToItem validates a record and maps it to the canonical Item shape
func ToItem(rec Record, discoveredAt time.Time) (models.Item, error) {
	fullID := extractID(rec.RawID)
	if fullID == "" {
		fullID = extractID(rec.Link)
	}
	if fullID == "" {
		return models.Item{}, fmt.Errorf("%w: missing identifier", ErrInvalidRecord)
	}

	title := collapseSpace(rec.Title)
	if title == "" {
		return models.Item{}, fmt.Errorf("%w: %s has no title", ErrInvalidRecord, fullID)
	}

	authors := cleanList(rec.Authors)
	if len(authors) == 0 {
		return models.Item{}, fmt.Errorf("%w: %s has no authors", ErrInvalidRecord, fullID)
	}

	categories := cleanList(rec.Categories)
	if len(categories) == 0 {
		return models.Item{}, fmt.Errorf("%w: %s has no categories", ErrInvalidRecord, fullID)
	}

	published, err := parsePublished(rec.Published)
	if err != nil {
		return models.Item{}, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, fullID, err)
	}

	link := strings.TrimSpace(rec.Link)
	if link == "" {
		link = fmt.Sprintf("%s/abs/%s", arxivBaseURL, fullID)
	}
	pdf := strings.TrimSpace(rec.PDFLink)
	if pdf == "" {
		pdf = fmt.Sprintf("%s/pdf/%s", arxivBaseURL, fullID)
	}

	return models.Item{
		ID:           models.CleanID(fullID),
		Title:        title,
		Abstract:     collapseSpace(strings.TrimPrefix(strings.TrimSpace(rec.Summary), "Abstract:")),
		Categories:   categories,
		Authors:      authors,
		PublishedAt:  published,
		URL:          link,
		PDFURL:       pdf,
		DOI:          strings.TrimSpace(rec.DOI),
		DiscoveredAt: discoveredAt.UTC(),
	}, nil
}

// extractID pulls "2505.20245v1" out of "http://arxiv.org/abs/2505.20245v1", "arXiv:2505.20245v1"
// or a bare id. Old-style ids keep their archive prefix (hep-th/9901001).
func extractID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if idx := strings.Index(raw, "/abs/"); idx >= 0 {
		raw = raw[idx+len("/abs/"):]
	}
	raw = strings.TrimPrefix(raw, "arXiv:")
	raw = strings.TrimSuffix(raw, ".pdf")
	raw = strings.Trim(raw, "/ ")
	if strings.Contains(raw, "://") {
		return ""
	}
	return raw
}

func parsePublished(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("missing publication date")
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised publication date %q", raw)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = collapseSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
