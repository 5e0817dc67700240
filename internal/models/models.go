package models

import (
	"strings"
	"time"
)

// Item represents a paper tracked through discovery, enrichment, ranking and posting
type Item struct {
	ID           string     `json:"id"` // arXiv id without version suffix
	Title        string     `json:"title"`
	Abstract     string     `json:"abstract"`
	Categories   []string   `json:"categories"`
	Authors      []string   `json:"authors"`
	PublishedAt  time.Time  `json:"published_at"`
	URL          string     `json:"url"`
	PDFURL       string     `json:"pdf_url,omitempty"`
	DOI          string     `json:"doi,omitempty"`
	Popularity   *float64   `json:"popularity,omitempty"` // nil until enriched
	Attention    *Attention `json:"attention,omitempty"`
	EnrichedAt   time.Time  `json:"enriched_at,omitzero"`
	DiscoveredAt time.Time  `json:"discovered_at"`

	// PriorityScore is the last computed score. Ordering never reads it.
	PriorityScore float64 `json:"priority_score"`
}

// Attention holds the popularity signal returned by the enrichment service
type Attention struct {
	Score    float64 `json:"score"`
	Tweeters int     `json:"tweeters,omitempty"`
	Posts    int     `json:"posts,omitempty"`
	Reddit   int     `json:"reddit,omitempty"`
	Feeds    int     `json:"feeds,omitempty"`
}

// IsEnriched reports whether a popularity lookup has completed for the item
func (i Item) IsEnriched() bool {
	return i.Popularity != nil
}

// PopularityValue returns the popularity score, treating "not enriched" as zero
func (i Item) PopularityValue() float64 {
	if i.Popularity == nil {
		return 0
	}
	return *i.Popularity
}

// SetAttention records a completed enrichment
func (i *Item) SetAttention(a Attention, at time.Time) {
	score := a.Score
	i.Popularity = &score
	i.Attention = &a
	i.EnrichedAt = at
}

// Clone returns a deep copy so queue internals never alias caller data
func (i Item) Clone() Item {
	out := i
	out.Categories = append([]string(nil), i.Categories...)
	out.Authors = append([]string(nil), i.Authors...)
	if i.Popularity != nil {
		p := *i.Popularity
		out.Popularity = &p
	}
	if i.Attention != nil {
		a := *i.Attention
		out.Attention = &a
	}
	return out
}

// CleanID strips the version suffix from an arXiv identifier (2505.20245v2 -> 2505.20245)
func CleanID(id string) string {
	id = strings.TrimSpace(id)
	if idx := strings.LastIndex(id, "v"); idx > 0 {
		suffix := id[idx+1:]
		if suffix != "" && strings.Trim(suffix, "0123456789") == "" {
			return id[:idx]
		}
	}
	return id
}

// Counters tracks posting rate limits and the discovery watermark
type Counters struct {
	Day             string    `json:"day"` // YYYY-MM-DD in the configured timezone
	PostsToday      int       `json:"posts_today"`
	LastPostAt      time.Time `json:"last_post_at"`
	LastDiscoveryAt time.Time `json:"last_discovery_at"`
}

// Message is a formatted post ready for a channel publisher
type Message struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// Status is the operator-facing view of the poster
type Status struct {
	QueueDepth         int       `json:"queue_depth"`
	InFlight           int       `json:"in_flight"`
	PostedTotal        int       `json:"posted_total"`
	PostsToday         int       `json:"posts_today"`
	MaxPostsPerDay     int       `json:"max_posts_per_day"`
	MinPostingInterval string    `json:"min_posting_interval"`
	DiscoveryInterval  string    `json:"discovery_interval"`
	TargetChannel      string    `json:"target_channel"`
	LastDiscovery      time.Time `json:"last_discovery,omitzero"`
	LastPost           time.Time `json:"last_post,omitzero"`
	NextDiscovery      time.Time `json:"next_discovery"`
	NextPostEligible   time.Time `json:"next_post_eligible"`
	DiscoveryRunning   bool      `json:"discovery_running"`
	PostingRunning     bool      `json:"posting_running"`
	LastDiscoveryError string    `json:"last_discovery_error,omitempty"`
	LastPostError      string    `json:"last_post_error,omitempty"`
	LastSaveError      string    `json:"last_save_error,omitempty"`
}

// Alert represents an urgent notification
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "critical", "urgent", "info"
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Item      *Item     `json:"item,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Report is the periodic operator summary: current status plus the head of the queue
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Period      string    `json:"period"`
	Status      Status    `json:"status"`
	Upcoming    []Item    `json:"upcoming"`
	Pruned      int       `json:"pruned"`
}
