package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acryl-data/monitors/internal/domain"
)

type countingEvaluator struct {
	calls int32
	delay time.Duration
	err   error
}

func (e *countingEvaluator) Evaluate(ctx context.Context, _ domain.Assertion, _ *domain.AssertionEvaluationParameters, _ domain.AssertionEvaluationContext) (domain.AssertionEvaluationResult, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return domain.AssertionEvaluationResult{}, ctx.Err()
		}
	}
	if e.err != nil {
		return domain.AssertionEvaluationResult{}, e.err
	}
	return domain.AssertionEvaluationResult{Type: domain.AssertionResultSuccess}, nil
}

type panickingEvaluator struct{}

func (panickingEvaluator) Evaluate(context.Context, domain.Assertion, *domain.AssertionEvaluationParameters, domain.AssertionEvaluationContext) (domain.AssertionEvaluationResult, error) {
	panic("boom")
}

func testAssertion(urn string) domain.Assertion {
	return domain.Assertion{Urn: urn, Type: domain.AssertionTypeFreshness}
}

func TestAddAssertion_ReRegister_ReplacesPriorJobUnderSameUrn(t *testing.T) {
	ev := &countingEvaluator{}
	s := New(ev, 10)

	err := s.AddAssertion(testAssertion("urn:li:assertion:1"), domain.CronSchedule{Cron: "* * * * *", Timezone: "UTC"}, nil)
	require.NoError(t, err)
	firstID := s.jobs["urn:li:assertion:1"].entryID

	err = s.AddAssertion(testAssertion("urn:li:assertion:1"), domain.CronSchedule{Cron: "*/5 * * * *", Timezone: "UTC"}, nil)
	require.NoError(t, err)

	assert.Len(t, s.jobs, 1)
	assert.NotEqual(t, firstID, s.jobs["urn:li:assertion:1"].entryID)
}

func TestAddAssertion_InvalidCron_ReturnsError(t *testing.T) {
	s := New(&countingEvaluator{}, 10)
	err := s.AddAssertion(testAssertion("urn:li:assertion:1"), domain.CronSchedule{Cron: "not a cron expr", Timezone: "UTC"}, nil)
	assert.Error(t, err)
	assert.Empty(t, s.jobs)
}

func TestRemoveAssertion_UnknownUrn_IsNoOp(t *testing.T) {
	s := New(&countingEvaluator{}, 10)
	s.RemoveAssertion("urn:li:assertion:does-not-exist")
	assert.Empty(t, s.jobs)
}

func TestRemoveAssertion_RemovesScheduledJob(t *testing.T) {
	s := New(&countingEvaluator{}, 10)
	require.NoError(t, s.AddAssertion(testAssertion("urn:li:assertion:1"), domain.CronSchedule{Cron: "* * * * *", Timezone: "UTC"}, nil))
	s.RemoveAssertion("urn:li:assertion:1")
	assert.Empty(t, s.jobs)
}

func TestScheduledUrns_ReflectsCurrentJobs(t *testing.T) {
	s := New(&countingEvaluator{}, 10)
	require.NoError(t, s.AddAssertion(testAssertion("urn:li:assertion:1"), domain.CronSchedule{Cron: "* * * * *", Timezone: "UTC"}, nil))
	require.NoError(t, s.AddAssertion(testAssertion("urn:li:assertion:2"), domain.CronSchedule{Cron: "* * * * *", Timezone: "UTC"}, nil))
	assert.ElementsMatch(t, []string{"urn:li:assertion:1", "urn:li:assertion:2"}, s.ScheduledUrns())
}

func TestFire_UnknownUrn_DoesNothing(t *testing.T) {
	s := New(&countingEvaluator{}, 10)
	s.fire("urn:li:assertion:never-added")
}

func TestFire_InvokesEvaluatorAndReleasesSemaphoreSlot(t *testing.T) {
	ev := &countingEvaluator{}
	s := New(ev, 1)
	require.NoError(t, s.AddAssertion(testAssertion("urn:li:assertion:1"), domain.CronSchedule{Cron: "* * * * *", Timezone: "UTC"}, nil))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.fire("urn:li:assertion:1")
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ev.calls) == 1
	}, time.Second, 10*time.Millisecond)
	wg.Wait()
}

func TestFire_OverlappingFires_BothRunConcurrently(t *testing.T) {
	ev := &countingEvaluator{delay: 50 * time.Millisecond}
	s := New(ev, 10)
	require.NoError(t, s.AddAssertion(testAssertion("urn:li:assertion:1"), domain.CronSchedule{Cron: "* * * * *", Timezone: "UTC"}, nil))

	s.fire("urn:li:assertion:1")
	s.fire("urn:li:assertion:1")

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ev.calls) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestRunOne_EvaluatorPanic_IsContainedAndLogged(t *testing.T) {
	s := New(panickingEvaluator{}, 10)
	j := &job{assertion: testAssertion("urn:li:assertion:1")}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.runOne(j)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runOne did not return after evaluator panic")
	}
}

func TestRunOne_EvaluatorError_IsSwallowed(t *testing.T) {
	s := New(&countingEvaluator{err: assert.AnError}, 10)
	j := &job{assertion: testAssertion("urn:li:assertion:1")}
	s.runOne(j)
}

func TestRunOne_RespectsEvaluationTimeout(t *testing.T) {
	ev := &countingEvaluator{delay: 200 * time.Millisecond}
	s := New(ev, 10)
	s.timeout = 10 * time.Millisecond
	j := &job{assertion: testAssertion("urn:li:assertion:1")}

	start := time.Now()
	s.runOne(j)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}
