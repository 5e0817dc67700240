package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const maxListingPages = 5

var (
	listingDateExpr    = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)
	listingSubjectExpr = regexp.MustCompile(`\(([a-z\-]+(?:\.[A-Za-z\-]+)?)\)`)
)

// ListingSource scrapes the arXiv "recent" listing pages, one category at a time.
// Listing pages only carry the announcement day, so PublishedAt has day precision.
type ListingSource struct {
	client   *resty.Client
	baseURL  string
	pageSize int
}

// Ensure ListingSource implements Catalog
var _ Catalog = (*ListingSource)(nil)

// NewListingSource creates a listing scraper. An empty baseURL uses https://arxiv.org.
func NewListingSource(baseURL string) *ListingSource {
	if baseURL == "" {
		baseURL = arxivBaseURL
	}
	return &ListingSource{
		client: resty.New().
			SetTimeout(20*time.Second).
			SetHeader("User-Agent", "arXiv-Poster-Bot/1.0"),
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		pageSize: 200,
	}
}

func (l *ListingSource) GetName() string {
	return "arxiv-listing"
}

// Query walks each category's recent listing until it reaches days before q.Since
func (l *ListingSource) Query(ctx context.Context, q Query) ([]Record, error) {
	if len(q.Categories) == 0 {
		return nil, fmt.Errorf("no categories requested")
	}

	sinceDay := q.Since.UTC().Truncate(24 * time.Hour)
	var results []Record

	for _, cat := range q.Categories {
		var collected int
		for page := 0; page < maxListingPages; page++ {
			doc, err := l.fetchDocument(ctx, cat, page*l.pageSize)
			if err != nil {
				return nil, fmt.Errorf("category %s: %w", cat, err)
			}

			records, processed, reachedOld := l.extract(doc, sinceDay)
			for _, rec := range records {
				if q.MaxResults > 0 && collected >= q.MaxResults {
					break
				}
				results = append(results, rec)
				collected++
			}

			if reachedOld || processed < l.pageSize || (q.MaxResults > 0 && collected >= q.MaxResults) {
				break
			}
		}
		logrus.Debugf("Collected %d listing entries for %s", collected, cat)
	}

	return results, nil
}

func (l *ListingSource) fetchDocument(ctx context.Context, category string, skip int) (*goquery.Document, error) {
	pageURL := fmt.Sprintf("%s/list/%s/recent?%s", l.baseURL, url.PathEscape(category), url.Values{
		"skip": {strconv.Itoa(skip)},
		"show": {strconv.Itoa(l.pageSize)},
	}.Encode())

	resp, err := l.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(pageURL)
	if err != nil {
		return nil, fmt.Errorf("request listing: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("arXiv listing returned status %d", resp.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	return doc, nil
}

// extract reads every dt/dd pair, dating each by the closest preceding h3 heading,
// which arXiv places either inside the list or just before it
func (l *ListingSource) extract(doc *goquery.Document, sinceDay time.Time) ([]Record, int, bool) {
	var (
		records    []Record
		processed  int
		reachedOld bool
	)

	doc.Find("dl").EachWithBreak(func(_ int, dl *goquery.Selection) bool {
		day := listingDateExpr.FindString(dl.PrevAllFiltered("h3").First().Text())

		dl.Children().EachWithBreak(func(_ int, child *goquery.Selection) bool {
			switch goquery.NodeName(child) {
			case "h3":
				day = listingDateExpr.FindString(child.Text())
				if parsed, err := time.Parse("2 Jan 2006", day); err == nil && parsed.Before(sinceDay) {
					reachedOld = true
				}
			case "dt":
				processed++
				records = append(records, parseListingEntry(child, child.Next(), day))
			}
			return !reachedOld
		})
		if !reachedOld && day != "" {
			if parsed, err := time.Parse("2 Jan 2006", day); err == nil && parsed.Before(sinceDay) {
				reachedOld = true
			}
		}
		return !reachedOld
	})

	return records, processed, reachedOld
}

func parseListingEntry(dt, dd *goquery.Selection, day string) Record {
	link := dt.Find(`a[href*="/abs/"]`).First()
	href, _ := link.Attr("href")
	if href != "" && !strings.HasPrefix(href, "http") {
		href = arxivBaseURL + href
	}
	pdf, _ := dt.Find(`a[href*="/pdf/"]`).First().Attr("href")
	if pdf != "" && !strings.HasPrefix(pdf, "http") {
		pdf = arxivBaseURL + pdf
	}

	title := strings.TrimSpace(dd.Find(".list-title").First().Text())
	title = strings.TrimSpace(strings.TrimPrefix(title, "Title:"))

	var authors []string
	dd.Find(".list-authors a").Each(func(_ int, a *goquery.Selection) {
		authors = append(authors, a.Text())
	})

	var categories []string
	for _, m := range listingSubjectExpr.FindAllStringSubmatch(dd.Find(".list-subjects").Text(), -1) {
		categories = append(categories, m[1])
	}

	return Record{
		Source:     "arxiv-listing",
		RawID:      strings.TrimSpace(link.Text()),
		Title:      title,
		Summary:    dd.Find("p.mathjax").First().Text(),
		Authors:    authors,
		Categories: categories,
		Published:  day,
		Link:       href,
		PDFLink:    pdf,
	}
}
