package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/config"
	"github.com/azure/arxiv-poster-bot/internal/discovery"
	"github.com/azure/arxiv-poster-bot/internal/poster"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const pruneSpec = "0 30 3 * * *"

// Poster is the part of the poster service the scheduler drives
type Poster interface {
	RunDiscovery(ctx context.Context) (discovery.Result, error)
	RunPosting(ctx context.Context) (poster.PostResult, error)
	DiscoveryDue() bool
	PruneDedup() int
	SendReport(period string, pruned int) error
	OnDiscoveryIntervalChange(fn func(time.Duration) error)
}

// Service handles scheduling of the discovery, posting and maintenance jobs
type Service struct {
	poster            Poster
	cron              *cron.Cron
	discoveryInterval time.Duration
	postingInterval   time.Duration
	reportSchedule    string

	// jobs run on this context so Stop lets in-flight cycles finish
	ctx context.Context

	mu             sync.Mutex
	discoveryEntry cron.EntryID
	startup        sync.WaitGroup
	pruned         atomic.Int64
}

// NewService creates a new scheduler service
func NewService(cfg *config.Config, p Poster) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cron.PrintfLogger(logrus.StandardLogger())
	return &Service{
		poster:            p,
		discoveryInterval: cfg.DiscoveryInterval,
		postingInterval:   cfg.PostingCheckInterval,
		reportSchedule:    cfg.ReportSchedule,
		ctx:               context.Background(),
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// Start registers the jobs, starts the cron runner and kicks off discovery when it is due
func (s *Service) Start() error {
	if err := s.scheduleDiscovery(s.discoveryInterval); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(every(s.postingInterval), s.runPosting); err != nil {
		return fmt.Errorf("failed to schedule posting: %w", err)
	}

	if _, err := s.cron.AddFunc(pruneSpec, s.runPrune); err != nil {
		return fmt.Errorf("failed to schedule dedup pruning: %w", err)
	}

	var reportSpec string
	switch s.reportSchedule {
	case "daily":
		// daily at 9 AM
		reportSpec = "0 0 9 * * *"
	case "weekly":
		// Monday at 9 AM
		reportSpec = "0 0 9 * * MON"
	}
	if reportSpec != "" {
		if _, err := s.cron.AddFunc(reportSpec, s.runReport); err != nil {
			return fmt.Errorf("failed to schedule report: %w", err)
		}
	}

	s.poster.OnDiscoveryIntervalChange(s.Reschedule)
	s.cron.Start()

	if s.poster.DiscoveryDue() {
		s.startup.Add(1)
		go func() {
			defer s.startup.Done()
			logrus.Info("Discovery is due, running it now")
			s.runDiscovery()
		}()
	}

	logrus.Infof("Scheduler started: discovery every %s, posting checks every %s, %s reports",
		s.discoveryInterval, s.postingInterval, reportScheduleName(s.reportSchedule))
	return nil
}

// Reschedule replaces the discovery entry with one at the new interval
func (s *Service) Reschedule(interval time.Duration) error {
	if err := s.scheduleDiscovery(interval); err != nil {
		return err
	}
	logrus.Infof("Discovery rescheduled to every %s", interval)
	return nil
}

func (s *Service) scheduleDiscovery(interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(every(interval), s.runDiscovery)
	if err != nil {
		return fmt.Errorf("failed to schedule discovery: %w", err)
	}
	if s.discoveryEntry != 0 {
		s.cron.Remove(s.discoveryEntry)
	}
	s.discoveryEntry = id
	s.discoveryInterval = interval
	return nil
}

// Stop stops the scheduler and waits for running jobs, bounded by ctx
func (s *Service) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}

	stopped := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.startup.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler did not stop in time: %w", ctx.Err())
	}
}

func (s *Service) runDiscovery() {
	logrus.Info("Starting scheduled discovery")
	if _, err := s.poster.RunDiscovery(s.ctx); err != nil {
		if errors.Is(err, poster.ErrCycleBusy) {
			logrus.Info("Discovery already running, skipping tick")
			return
		}
		logrus.Errorf("Scheduled discovery failed: %v", err)
	}
}

func (s *Service) runPosting() {
	res, err := s.poster.RunPosting(s.ctx)
	if err != nil {
		if errors.Is(err, poster.ErrCycleBusy) {
			logrus.Info("Posting already running, skipping tick")
			return
		}
		logrus.Errorf("Scheduled posting failed: %v", err)
		return
	}
	logrus.Debugf("Posting check finished: %s", res.Outcome)
}

func (s *Service) runPrune() {
	s.pruned.Add(int64(s.poster.PruneDedup()))
}

func (s *Service) runReport() {
	pruned := int(s.pruned.Swap(0))
	if err := s.poster.SendReport(s.reportSchedule, pruned); err != nil {
		logrus.Errorf("Failed to send %s report: %v", s.reportSchedule, err)
		s.pruned.Add(int64(pruned))
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

func reportScheduleName(schedule string) string {
	if schedule == "" || schedule == "off" {
		return "no"
	}
	return schedule
}
