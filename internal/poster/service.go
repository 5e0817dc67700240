// Package poster owns the runtime state of the bot and runs single discovery and
// posting transactions against it. Scheduling lives in the scheduler package.
package poster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/commentary"
	"github.com/azure/arxiv-poster-bot/internal/config"
	"github.com/azure/arxiv-poster-bot/internal/discovery"
	"github.com/azure/arxiv-poster-bot/internal/metrics"
	"github.com/azure/arxiv-poster-bot/internal/models"
	"github.com/azure/arxiv-poster-bot/internal/notifications"
	"github.com/azure/arxiv-poster-bot/internal/queue"
	"github.com/azure/arxiv-poster-bot/internal/state"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrCycleBusy is returned when the same cycle is already running
	ErrCycleBusy = errors.New("cycle already running")
	// ErrInvalidSettings wraps a rejected runtime reconfiguration
	ErrInvalidSettings = errors.New("invalid settings")
)

// PostOutcome describes what a posting attempt did
type PostOutcome string

const (
	OutcomePosted     PostOutcome = "posted"
	OutcomeQueueEmpty PostOutcome = "queue_empty"
	OutcomeDailyLimit PostOutcome = "daily_limit"
	OutcomeTooSoon    PostOutcome = "too_soon"
	OutcomeFailed     PostOutcome = "failed"
)

// PostResult is returned by RunPosting and PostNext
type PostResult struct {
	Outcome      PostOutcome  `json:"outcome"`
	Item         *models.Item `json:"item,omitempty"`
	NextEligible time.Time    `json:"next_eligible,omitzero"`
}

// Settings are the tunables the service reads on every cycle
type Settings struct {
	Categories         []string
	TargetChannel      string
	MaxPostsPerDay     int
	MinPostingInterval time.Duration
	DiscoveryInterval  time.Duration
	InitialLookback    time.Duration
	MaxLookback        time.Duration
	DedupRetention     time.Duration
}

// SettingsView is the JSON shape of the runtime-adjustable settings
type SettingsView struct {
	TargetChannel      string   `json:"target_channel"`
	MaxPostsPerDay     int      `json:"max_posts_per_day"`
	MinPostingInterval string   `json:"min_posting_interval"`
	DiscoveryInterval  string   `json:"discovery_interval"`
	Categories         []string `json:"categories"`
}

// Update changes runtime settings. Nil fields are left alone.
type Update struct {
	TargetChannel      *string `json:"target_channel,omitempty"`
	MaxPostsPerDay     *int    `json:"max_posts_per_day,omitempty"`
	MinPostingInterval *string `json:"min_posting_interval,omitempty"`
	DiscoveryInterval  *string `json:"discovery_interval,omitempty"`
}

// Options wires a Service
type Options struct {
	Settings    Settings
	Location    *time.Location
	CallTimeout time.Duration
	Store       *queue.Store
	Pipeline    *discovery.Pipeline
	Generator   commentary.Generator // optional
	Publisher   notifications.Publisher
	Alerts      notifications.NotificationInterface // optional
	Persister   *state.Persister
}

// Service holds the queue, dedup store and counters, and runs one cycle at a time per kind
type Service struct {
	settingsMu    sync.RWMutex
	settings      Settings
	reconfigureMu sync.Mutex

	location    *time.Location
	callTimeout time.Duration

	store     *queue.Store
	pipeline  *discovery.Pipeline
	generator commentary.Generator
	publisher notifications.Publisher
	alerts    notifications.NotificationInterface
	persister *state.Persister

	mu               sync.Mutex // guards the fields below
	counters         models.Counters
	lastDiscoveryErr string
	lastPostErr      string
	lastSaveErr      string
	onIntervalChange func(time.Duration) error

	saveMu      sync.Mutex
	discovering atomic.Bool
	posting     atomic.Bool

	now func() time.Time
}

// NewService creates a new poster service
func NewService(opts Options) *Service {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = discovery.DefaultCallTimeout
	}
	return &Service{
		settings:    opts.Settings,
		location:    loc,
		callTimeout: timeout,
		store:       opts.Store,
		pipeline:    opts.Pipeline,
		generator:   opts.Generator,
		publisher:   opts.Publisher,
		alerts:      opts.Alerts,
		persister:   opts.Persister,
		now:         time.Now,
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// LoadState restores the queue, dedup store and counters from the last snapshot
func (s *Service) LoadState() {
	snap := s.persister.Load()
	s.store.Restore(snap.Queue, snap.Posted)

	s.mu.Lock()
	s.counters = snap.Counters
	s.rollover(s.now())
	s.mu.Unlock()

	s.updateGauges()
}

// OnDiscoveryIntervalChange registers the callback run when the discovery interval is reconfigured
func (s *Service) OnDiscoveryIntervalChange(fn func(time.Duration) error) {
	s.mu.Lock()
	s.onIntervalChange = fn
	s.mu.Unlock()
}

// Settings returns a copy of the current settings
func (s *Service) Settings() Settings {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	out := s.settings
	out.Categories = append([]string(nil), s.settings.Categories...)
	return out
}

// View returns the JSON view of the runtime-adjustable settings
func (set Settings) View() SettingsView {
	return SettingsView{
		TargetChannel:      set.TargetChannel,
		MaxPostsPerDay:     set.MaxPostsPerDay,
		MinPostingInterval: set.MinPostingInterval.String(),
		DiscoveryInterval:  set.DiscoveryInterval.String(),
		Categories:         set.Categories,
	}
}

// Reconfigure validates and applies u. Nothing changes when validation fails.
func (s *Service) Reconfigure(u Update) (Settings, error) {
	s.reconfigureMu.Lock()
	defer s.reconfigureMu.Unlock()

	next := s.Settings()

	if u.TargetChannel != nil {
		if *u.TargetChannel == "" {
			return Settings{}, fmt.Errorf("%w: target channel cannot be empty", ErrInvalidSettings)
		}
		next.TargetChannel = *u.TargetChannel
	}
	if u.MaxPostsPerDay != nil {
		next.MaxPostsPerDay = *u.MaxPostsPerDay
	}
	if u.MinPostingInterval != nil {
		d, err := time.ParseDuration(*u.MinPostingInterval)
		if err != nil {
			return Settings{}, fmt.Errorf("%w: min posting interval: %v", ErrInvalidSettings, err)
		}
		next.MinPostingInterval = d
	}
	if u.DiscoveryInterval != nil {
		d, err := time.ParseDuration(*u.DiscoveryInterval)
		if err != nil {
			return Settings{}, fmt.Errorf("%w: discovery interval: %v", ErrInvalidSettings, err)
		}
		next.DiscoveryInterval = d
	}

	if err := config.ValidateSchedule(next.DiscoveryInterval, next.MinPostingInterval, next.MaxPostsPerDay); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if next.MaxLookback > 0 && next.MaxLookback < next.DiscoveryInterval {
		return Settings{}, fmt.Errorf("%w: discovery interval cannot exceed the %s lookback cap", ErrInvalidSettings, next.MaxLookback)
	}

	prev := s.Settings()
	if next.DiscoveryInterval != prev.DiscoveryInterval {
		s.mu.Lock()
		hook := s.onIntervalChange
		s.mu.Unlock()
		if hook != nil {
			if err := hook(next.DiscoveryInterval); err != nil {
				return Settings{}, fmt.Errorf("failed to reschedule discovery: %w", err)
			}
		}
	}

	s.settingsMu.Lock()
	s.settings = next
	s.settingsMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"target_channel":       next.TargetChannel,
		"max_posts_per_day":    next.MaxPostsPerDay,
		"min_posting_interval": next.MinPostingInterval,
		"discovery_interval":   next.DiscoveryInterval,
	}).Info("Settings updated")

	return next, nil
}

// DiscoveryDue reports whether discovery has never run or its interval has elapsed
func (s *Service) DiscoveryDue() bool {
	s.mu.Lock()
	last := s.counters.LastDiscoveryAt
	s.mu.Unlock()
	return last.IsZero() || s.now().Sub(last) >= s.Settings().DiscoveryInterval
}

// RunDiscovery runs one discovery transaction and persists the result
func (s *Service) RunDiscovery(ctx context.Context) (discovery.Result, error) {
	if !s.discovering.CompareAndSwap(false, true) {
		return discovery.Result{}, ErrCycleBusy
	}
	defer s.discovering.Store(false)

	start := s.now()
	set := s.Settings()
	window := s.discoveryWindow(start, set)

	logrus.WithFields(logrus.Fields{
		"since":      window.Since,
		"until":      window.Until,
		"categories": set.Categories,
	}).Info("Starting discovery")

	res, err := s.pipeline.Discover(ctx, window, set.Categories)
	if err != nil {
		s.mu.Lock()
		s.lastDiscoveryErr = err.Error()
		s.mu.Unlock()
		metrics.RecordCycle("discovery", "error", time.Since(start).Seconds())
		logrus.Errorf("Discovery failed, will retry at next tick: %v", err)
		return res, fmt.Errorf("discovery failed: %w", err)
	}

	s.mu.Lock()
	s.counters.LastDiscoveryAt = start
	s.lastDiscoveryErr = ""
	s.mu.Unlock()

	s.persist()

	outcome := "ok"
	if res.Added == 0 {
		outcome = "no_new_items"
	}
	metrics.RecordCycle("discovery", outcome, time.Since(start).Seconds())
	metrics.RecordDiscovery(res.Added, res.Refreshed, res.AlreadyPosted, res.Rejected, res.Enriched, res.EnrichFailed)
	return res, nil
}

// discoveryWindow covers two intervals back, further after downtime, capped at MaxLookback
func (s *Service) discoveryWindow(now time.Time, set Settings) discovery.Window {
	s.mu.Lock()
	last := s.counters.LastDiscoveryAt
	s.mu.Unlock()

	var since time.Time
	if last.IsZero() {
		since = now.Add(-set.InitialLookback)
	} else {
		since = now.Add(-2 * set.DiscoveryInterval)
		if gap := last.Add(-set.DiscoveryInterval); gap.Before(since) {
			since = gap
		}
	}
	if set.MaxLookback > 0 {
		if floor := now.Add(-set.MaxLookback); since.Before(floor) {
			since = floor
		}
	}
	return discovery.Window{Since: since, Until: now}
}

// RunPosting is the scheduled posting cycle: it honours the daily cap and the minimum interval
func (s *Service) RunPosting(ctx context.Context) (PostResult, error) {
	return s.post(ctx, true)
}

// PostNext posts the best queued item now. It honours the daily cap but not the minimum interval.
func (s *Service) PostNext(ctx context.Context) (PostResult, error) {
	return s.post(ctx, false)
}

func (s *Service) post(ctx context.Context, enforceInterval bool) (PostResult, error) {
	if !s.posting.CompareAndSwap(false, true) {
		return PostResult{}, ErrCycleBusy
	}
	defer s.posting.Store(false)

	start := s.now()
	set := s.Settings()

	s.mu.Lock()
	s.rollover(start)
	postsToday := s.counters.PostsToday
	lastPost := s.counters.LastPostAt
	s.mu.Unlock()

	if postsToday >= set.MaxPostsPerDay {
		logrus.Infof("Daily limit reached (%d/%d)", postsToday, set.MaxPostsPerDay)
		metrics.RecordCycle("posting", string(OutcomeDailyLimit), 0)
		return PostResult{Outcome: OutcomeDailyLimit, NextEligible: s.nextDay(start)}, nil
	}
	if enforceInterval && !lastPost.IsZero() && start.Sub(lastPost) < set.MinPostingInterval {
		next := lastPost.Add(set.MinPostingInterval)
		logrus.Debugf("Minimum posting interval not elapsed, next post at %s", next)
		metrics.RecordCycle("posting", string(OutcomeTooSoon), 0)
		return PostResult{Outcome: OutcomeTooSoon, NextEligible: next}, nil
	}

	item, err := s.store.PopBest(start)
	if errors.Is(err, queue.ErrNotFound) {
		logrus.Info("Queue is empty, nothing to post")
		metrics.RecordCycle("posting", string(OutcomeQueueEmpty), 0)
		return PostResult{Outcome: OutcomeQueueEmpty}, nil
	}
	if err != nil {
		return PostResult{}, err
	}

	msg := FormatMessage(item, s.comment(ctx, item))

	logrus.WithFields(logrus.Fields{
		"id":      item.ID,
		"score":   item.PriorityScore,
		"channel": set.TargetChannel,
	}).Info("Posting paper")

	pubCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	err = s.publisher.Publish(pubCtx, set.TargetChannel, msg)
	cancel()
	if err != nil {
		if rqErr := s.store.Requeue(item.ID); rqErr != nil {
			logrus.Errorf("Failed to requeue %s: %v", item.ID, rqErr)
		}
		s.mu.Lock()
		s.lastPostErr = err.Error()
		s.mu.Unlock()
		metrics.RecordCycle("posting", string(OutcomeFailed), time.Since(start).Seconds())

		if errors.Is(err, notifications.ErrInvalidChannel) {
			s.alert("critical", "Target channel is invalid", err.Error(), &item)
		}
		logrus.Errorf("Publishing %s failed, returned to queue: %v", item.ID, err)
		return PostResult{Outcome: OutcomeFailed, Item: &item}, fmt.Errorf("publish failed: %w", err)
	}

	postedAt := s.now()
	if err := s.store.MarkPosted(item.ID, postedAt); err != nil {
		logrus.Errorf("Failed to mark %s as posted: %v", item.ID, err)
	}

	s.mu.Lock()
	s.rollover(postedAt)
	s.counters.PostsToday++
	s.counters.LastPostAt = postedAt
	s.lastPostErr = ""
	count := s.counters.PostsToday
	s.mu.Unlock()

	s.persist()

	logrus.Infof("Posted %s (%d/%d today)", item.ID, count, set.MaxPostsPerDay)
	metrics.RecordCycle("posting", string(OutcomePosted), time.Since(start).Seconds())
	return PostResult{Outcome: OutcomePosted, Item: &item, NextEligible: postedAt.Add(set.MinPostingInterval)}, nil
}

// comment is best effort: any failure posts without commentary
func (s *Service) comment(ctx context.Context, item models.Item) string {
	if s.generator == nil {
		return ""
	}
	genCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	text, err := s.generator.Generate(genCtx, item)
	if err != nil {
		logrus.Warnf("Commentary for %s failed, posting without it: %v", item.ID, err)
		return ""
	}
	return text
}

// rollover zeroes the daily counter on a new calendar day. Caller holds s.mu.
func (s *Service) rollover(now time.Time) {
	day := now.In(s.location).Format("2006-01-02")
	if s.counters.Day != day {
		if s.counters.Day != "" {
			logrus.Infof("New posting day %s, resetting daily counter (was %d)", day, s.counters.PostsToday)
		}
		s.counters.Day = day
		s.counters.PostsToday = 0
	}
}

func (s *Service) nextDay(now time.Time) time.Time {
	local := now.In(s.location)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, s.location)
}

// PruneDedup drops posted ids older than the retention period. Zero retention keeps everything.
func (s *Service) PruneDedup() int {
	retention := s.Settings().DedupRetention
	if retention <= 0 {
		return 0
	}
	removed := s.store.Prune(s.now().Add(-retention))
	if removed > 0 {
		logrus.Infof("Pruned %d dedup entries older than %s", removed, retention)
		s.persist()
	}
	return removed
}

// Peek returns the next n items in posting order
func (s *Service) Peek(n int) []models.Item {
	return s.store.Peek(n, s.now())
}

// Status returns the operator view of the service
func (s *Service) Status() models.Status {
	now := s.now()
	set := s.Settings()
	queued, inFlight, posted := s.store.Stats()

	s.mu.Lock()
	s.rollover(now)
	c := s.counters
	st := models.Status{
		QueueDepth:         queued,
		InFlight:           inFlight,
		PostedTotal:        posted,
		PostsToday:         c.PostsToday,
		MaxPostsPerDay:     set.MaxPostsPerDay,
		MinPostingInterval: set.MinPostingInterval.String(),
		DiscoveryInterval:  set.DiscoveryInterval.String(),
		TargetChannel:      set.TargetChannel,
		LastDiscovery:      c.LastDiscoveryAt,
		LastPost:           c.LastPostAt,
		DiscoveryRunning:   s.discovering.Load(),
		PostingRunning:     s.posting.Load(),
		LastDiscoveryError: s.lastDiscoveryErr,
		LastPostError:      s.lastPostErr,
		LastSaveError:      s.lastSaveErr,
	}
	s.mu.Unlock()

	st.NextDiscovery = now
	if !c.LastDiscoveryAt.IsZero() {
		if next := c.LastDiscoveryAt.Add(set.DiscoveryInterval); next.After(now) {
			st.NextDiscovery = next
		}
	}

	st.NextPostEligible = now
	if !c.LastPostAt.IsZero() {
		if next := c.LastPostAt.Add(set.MinPostingInterval); next.After(now) {
			st.NextPostEligible = next
		}
	}
	if c.PostsToday >= set.MaxPostsPerDay {
		if next := s.nextDay(now); next.After(st.NextPostEligible) {
			st.NextPostEligible = next
		}
	}

	return st
}

// Report builds the periodic operator report
func (s *Service) Report(period string, pruned int) *models.Report {
	return &models.Report{
		GeneratedAt: s.now(),
		Period:      period,
		Status:      s.Status(),
		Upcoming:    s.Peek(5),
		Pruned:      pruned,
	}
}

// SendReport sends the periodic report when an operator channel is configured
func (s *Service) SendReport(period string, pruned int) error {
	if s.alerts == nil {
		return nil
	}
	return s.alerts.SendReport(s.Report(period, pruned))
}

// Save persists the current state. It is also called on shutdown.
func (s *Service) Save() error {
	return s.persist()
}

func (s *Service) persist() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	now := s.now()
	queued, posted := s.store.Export(now)

	s.mu.Lock()
	counters := s.counters
	s.mu.Unlock()

	err := s.persister.Save(state.Snapshot{
		SavedAt:  now,
		Queue:    queued,
		Posted:   posted,
		Counters: counters,
	})
	metrics.RecordSave(err)
	s.updateGauges()

	s.mu.Lock()
	wasFailing := s.lastSaveErr != ""
	if err != nil {
		s.lastSaveErr = err.Error()
	} else {
		s.lastSaveErr = ""
	}
	s.mu.Unlock()

	if err != nil {
		// in-memory state stays authoritative; the next transaction retries the write
		logrus.Errorf("Failed to persist state: %v", err)
		if !wasFailing {
			s.alert("critical", "State snapshot could not be saved", err.Error(), nil)
		}
		return err
	}
	if wasFailing {
		logrus.Info("State persistence recovered")
	}
	return nil
}

func (s *Service) updateGauges() {
	queued, _, posted := s.store.Stats()
	s.mu.Lock()
	today := s.counters.PostsToday
	s.mu.Unlock()
	metrics.SetState(queued, posted, today)
}

func (s *Service) alert(kind, title, message string, item *models.Item) {
	if s.alerts == nil {
		return
	}
	alert := &models.Alert{
		ID:        uuid.NewString(),
		Type:      kind,
		Title:     title,
		Message:   message,
		Item:      item,
		CreatedAt: s.now(),
	}
	if err := s.alerts.SendAlert(alert); err != nil {
		logrus.Errorf("Failed to send alert %q: %v", title, err)
	}
}
