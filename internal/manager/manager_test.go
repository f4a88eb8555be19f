package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acryl-data/monitors/internal/domain"
)

type fakeFetcher struct {
	mu       sync.Mutex
	monitors []domain.Monitor
	err      error
	calls    int
}

func (f *fakeFetcher) Fetch(context.Context) ([]domain.Monitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.monitors, f.err
}

func (f *fakeFetcher) setMonitors(m []domain.Monitor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.monitors = m
}

type fakeScheduler struct {
	mu      sync.Mutex
	added   []string
	removed []string
	jobs    map[string]struct{}
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[string]struct{})}
}

func (s *fakeScheduler) AddAssertion(assertion domain.Assertion, _ domain.CronSchedule, _ *domain.AssertionEvaluationParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, assertion.Urn)
	s.jobs[assertion.Urn] = struct{}{}
	return nil
}

func (s *fakeScheduler) RemoveAssertion(urn string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, urn)
	delete(s.jobs, urn)
}

func (s *fakeScheduler) ScheduledUrns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	urns := make([]string, 0, len(s.jobs))
	for urn := range s.jobs {
		urns = append(urns, urn)
	}
	return urns
}

func monitorWithAssertions(monitorUrn string, assertionUrns ...string) domain.Monitor {
	specs := make([]domain.AssertionEvaluationSpec, 0, len(assertionUrns))
	for _, urn := range assertionUrns {
		specs = append(specs, domain.AssertionEvaluationSpec{
			Assertion: domain.Assertion{Urn: urn, Type: domain.AssertionTypeFreshness},
			Schedule:  domain.CronSchedule{Cron: "* * * * *", Timezone: "UTC"},
		})
	}
	return domain.Monitor{
		Urn:              monitorUrn,
		Type:             domain.MonitorTypeAssertion,
		AssertionMonitor: &domain.AssertionMonitor{Assertions: specs},
	}
}

func TestRefresh_SchedulesEachAssertionInEachMonitor(t *testing.T) {
	f := &fakeFetcher{monitors: []domain.Monitor{monitorWithAssertions("urn:li:monitor:1", "urn:li:assertion:1", "urn:li:assertion:2")}}
	s := newFakeScheduler()
	m := New(f, s, time.Hour)

	m.refresh(context.Background())

	assert.ElementsMatch(t, []string{"urn:li:assertion:1", "urn:li:assertion:2"}, s.added)
}

func TestRefresh_SkipsNonAssertionMonitorTypes(t *testing.T) {
	f := &fakeFetcher{monitors: []domain.Monitor{{Urn: "urn:li:monitor:1", Type: "OTHER"}}}
	s := newFakeScheduler()
	m := New(f, s, time.Hour)

	m.refresh(context.Background())

	assert.Empty(t, s.added)
}

func TestRefresh_FetchError_LogsAndDoesNotPanic(t *testing.T) {
	f := &fakeFetcher{err: assert.AnError}
	s := newFakeScheduler()
	m := New(f, s, time.Hour)

	m.refresh(context.Background())

	assert.Empty(t, s.added)
}

func TestRefresh_PrunesAssertionsNoLongerReturned(t *testing.T) {
	f := &fakeFetcher{monitors: []domain.Monitor{monitorWithAssertions("urn:li:monitor:1", "urn:li:assertion:1")}}
	s := newFakeScheduler()
	m := New(f, s, time.Hour)

	m.refresh(context.Background())
	require.ElementsMatch(t, []string{"urn:li:assertion:1"}, s.ScheduledUrns())

	f.setMonitors([]domain.Monitor{monitorWithAssertions("urn:li:monitor:1", "urn:li:assertion:2")})
	m.refresh(context.Background())

	assert.ElementsMatch(t, []string{"urn:li:assertion:2"}, s.ScheduledUrns())
	assert.Contains(t, s.removed, "urn:li:assertion:1")
}

func TestRun_RefreshesImmediatelyAndStopsOnContextCancel(t *testing.T) {
	f := &fakeFetcher{monitors: []domain.Monitor{monitorWithAssertions("urn:li:monitor:1", "urn:li:assertion:1")}}
	s := newFakeScheduler()
	m := New(f, s, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.calls >= 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}
