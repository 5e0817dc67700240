package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/config"
	"github.com/azure/arxiv-poster-bot/internal/discovery"
	"github.com/azure/arxiv-poster-bot/internal/poster"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPoster is a mock implementation of the Poster interface
type MockPoster struct {
	mock.Mock

	mu   sync.Mutex
	hook func(time.Duration) error
}

func (m *MockPoster) RunDiscovery(ctx context.Context) (discovery.Result, error) {
	args := m.Called()
	return args.Get(0).(discovery.Result), args.Error(1)
}

func (m *MockPoster) RunPosting(ctx context.Context) (poster.PostResult, error) {
	args := m.Called()
	return args.Get(0).(poster.PostResult), args.Error(1)
}

func (m *MockPoster) DiscoveryDue() bool {
	return m.Called().Bool(0)
}

func (m *MockPoster) PruneDedup() int {
	return m.Called().Int(0)
}

func (m *MockPoster) SendReport(period string, pruned int) error {
	return m.Called(period, pruned).Error(0)
}

func (m *MockPoster) OnDiscoveryIntervalChange(fn func(time.Duration) error) {
	m.mu.Lock()
	m.hook = fn
	m.mu.Unlock()
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Location = time.UTC
	return cfg
}

func discoveryDelay(t *testing.T, s *Service) time.Duration {
	t.Helper()
	s.mu.Lock()
	id := s.discoveryEntry
	s.mu.Unlock()
	entry := s.cron.Entry(id)
	require.True(t, entry.Valid())
	sched, ok := entry.Schedule.(cron.ConstantDelaySchedule)
	require.True(t, ok)
	return sched.Delay
}

func TestService_StartRegistersJobs(t *testing.T) {
	p := &MockPoster{}
	p.On("DiscoveryDue").Return(false)

	s := NewService(testConfig(), p)
	require.NoError(t, s.Start())
	defer s.Stop(context.Background())

	// discovery, posting, prune, daily report
	assert.Len(t, s.cron.Entries(), 4)
	assert.Equal(t, 6*time.Hour, discoveryDelay(t, s))
	p.AssertNotCalled(t, "RunDiscovery")
}

func TestService_ReportsOff(t *testing.T) {
	p := &MockPoster{}
	p.On("DiscoveryDue").Return(false)

	cfg := testConfig()
	cfg.ReportSchedule = "off"
	s := NewService(cfg, p)
	require.NoError(t, s.Start())
	defer s.Stop(context.Background())

	assert.Len(t, s.cron.Entries(), 3)
}

func TestService_RunsDiscoveryOnStartWhenDue(t *testing.T) {
	p := &MockPoster{}
	p.On("DiscoveryDue").Return(true)
	p.On("RunDiscovery").Return(discovery.Result{Added: 3}, nil).Once()

	s := NewService(testConfig(), p)
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop(context.Background()))

	p.AssertNumberOfCalls(t, "RunDiscovery", 1)
}

// blockingPoster holds discovery open until released
type blockingPoster struct {
	*MockPoster
	started chan struct{}
	release chan struct{}
}

func (b *blockingPoster) RunDiscovery(ctx context.Context) (discovery.Result, error) {
	close(b.started)
	<-b.release
	return discovery.Result{}, nil
}

func TestService_StopWaitsForStartupRun(t *testing.T) {
	m := &MockPoster{}
	m.On("DiscoveryDue").Return(true)
	p := &blockingPoster{MockPoster: m, started: make(chan struct{}), release: make(chan struct{})}

	s := NewService(testConfig(), p)
	require.NoError(t, s.Start())

	select {
	case <-p.started:
	case <-time.After(time.Second):
		t.Fatal("startup discovery did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, s.Stop(ctx), "discovery still running")

	close(p.release)
	assert.NoError(t, s.Stop(context.Background()))
}

func TestService_RescheduleOnIntervalChange(t *testing.T) {
	p := &MockPoster{}
	p.On("DiscoveryDue").Return(false)

	s := NewService(testConfig(), p)
	require.NoError(t, s.Start())
	defer s.Stop(context.Background())

	p.mu.Lock()
	hook := p.hook
	p.mu.Unlock()
	require.NotNil(t, hook)

	require.NoError(t, hook(2*time.Hour))
	assert.Equal(t, 2*time.Hour, discoveryDelay(t, s))
	assert.Len(t, s.cron.Entries(), 4, "old discovery entry removed")
}

func TestService_JobsSwallowErrors(t *testing.T) {
	p := &MockPoster{}
	p.On("RunDiscovery").Return(discovery.Result{}, poster.ErrCycleBusy).Once()
	p.On("RunDiscovery").Return(discovery.Result{}, errors.New("catalog down")).Once()
	p.On("RunPosting").Return(poster.PostResult{Outcome: poster.OutcomeFailed}, errors.New("publish failed")).Once()
	p.On("RunPosting").Return(poster.PostResult{Outcome: poster.OutcomeTooSoon}, nil).Once()

	s := NewService(testConfig(), p)
	s.runDiscovery()
	s.runDiscovery()
	s.runPosting()
	s.runPosting()

	p.AssertExpectations(t)
}

func TestService_ReportCarriesPrunedCount(t *testing.T) {
	p := &MockPoster{}
	p.On("PruneDedup").Return(4).Once()
	p.On("PruneDedup").Return(2).Once()
	p.On("SendReport", "daily", 6).Return(errors.New("webhook down")).Once()
	p.On("SendReport", "daily", 6).Return(nil).Once()
	p.On("SendReport", "daily", 0).Return(nil).Once()

	s := NewService(testConfig(), p)
	s.runPrune()
	s.runPrune()
	// a failed report keeps the count for the next one
	s.runReport()
	s.runReport()
	s.runReport()

	p.AssertExpectations(t)
}
