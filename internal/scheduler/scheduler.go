// Package scheduler owns one cron job per assertion and a bounded worker
// pool that evaluations are submitted onto. It is the containment
// boundary: a panic or error anywhere at or below an evaluation is logged
// with the offending assertion urn and never reaches the cron goroutine or
// another assertion's job.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/acryl-data/monitors/internal/domain"
	"github.com/acryl-data/monitors/internal/evalerr"
)

// DefaultEvaluationTimeout bounds one evaluation's wall-clock time.
// Exceeding it surfaces as evalerr.KindEvaluationTimeout, swallowed here
// exactly like any other evaluation error.
const DefaultEvaluationTimeout = 5 * time.Minute

// Evaluator is the subset of engine.Engine the scheduler depends on.
type Evaluator interface {
	Evaluate(ctx context.Context, assertion domain.Assertion, parameters *domain.AssertionEvaluationParameters, evalCtx domain.AssertionEvaluationContext) (domain.AssertionEvaluationResult, error)
}

// job is the state the scheduler keeps per scheduled assertion.
type job struct {
	entryID    cron.EntryID
	assertion  domain.Assertion
	parameters *domain.AssertionEvaluationParameters
}

// Scheduler owns a cron.Cron instance keyed per-assertion and a bounded
// worker pool (a buffered channel semaphore) that fired jobs submit onto.
type Scheduler struct {
	cron    *cron.Cron
	engine  Evaluator
	timeout time.Duration

	sem chan struct{}

	mu   sync.Mutex
	jobs map[string]*job // assertion urn -> job
}

// New builds a Scheduler backed by evaluator, with a worker pool bounded
// to capacity concurrent in-flight evaluations (spec default 10).
func New(evaluator Evaluator, capacity int) *Scheduler {
	if capacity <= 0 {
		capacity = 10
	}
	return &Scheduler{
		cron:    cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
		engine:  evaluator,
		timeout: DefaultEvaluationTimeout,
		sem:     make(chan struct{}, capacity),
		jobs:    make(map[string]*job),
	}
}

// Start begins the cron scheduler's background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the cron scheduler and waits for any in-flight cron
// invocation to return. It does not wait for submitted worker-pool tasks
// to drain — callers that need that should wait on their own run-tracking.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// AddAssertion registers assertion's cron job, replacing any existing job
// for the same urn first (invariant I1: an assertion is scheduled at most
// once; re-registering removes the prior job before adding the new one).
func (s *Scheduler) AddAssertion(assertion domain.Assertion, schedule domain.CronSchedule, parameters *domain.AssertionEvaluationParameters) error {
	spec := schedule.Cron
	if schedule.Timezone != "" {
		spec = fmt.Sprintf("CRON_TZ=%s %s", schedule.Timezone, spec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[assertion.Urn]; ok {
		s.cron.Remove(existing.entryID)
		delete(s.jobs, assertion.Urn)
	}

	j := &job{assertion: assertion, parameters: parameters}
	entryID, err := s.cron.AddFunc(spec, func() { s.fire(assertion.Urn) })
	if err != nil {
		return fmt.Errorf("scheduler: parse cron %q for assertion %s: %w", schedule.Cron, assertion.Urn, err)
	}
	j.entryID = entryID
	s.jobs[assertion.Urn] = j

	slog.Info("scheduler: registered assertion", "assertion_urn", assertion.Urn, "cron", schedule.Cron, "timezone", schedule.Timezone)
	return nil
}

// RemoveAssertion unregisters assertion's cron job. It is a no-op if no
// job is registered for the urn.
func (s *Scheduler) RemoveAssertion(assertionUrn string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[assertionUrn]
	if !ok {
		return
	}
	s.cron.Remove(j.entryID)
	delete(s.jobs, assertionUrn)
	slog.Info("scheduler: removed assertion", "assertion_urn", assertionUrn)
}

// ScheduledUrns returns the urns of every currently-scheduled assertion.
// Used by the manager's prune-removed reconcile pass.
func (s *Scheduler) ScheduledUrns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	urns := make([]string, 0, len(s.jobs))
	for urn := range s.jobs {
		urns = append(urns, urn)
	}
	return urns
}

// fire looks up the job for urn and submits it to the worker pool. No
// deduplication is performed: if a prior fire for the same urn is still
// running, both run concurrently (spec's documented tie-break for
// overlapping cron fires).
func (s *Scheduler) fire(urn string) {
	s.mu.Lock()
	j, ok := s.jobs[urn]
	s.mu.Unlock()
	if !ok {
		return
	}

	go func() {
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
		s.runOne(j)
	}()
}

// runOne invokes the engine for one job, under a wall-clock timeout and a
// recover-and-log panic boundary. Nothing here ever propagates to fire's
// cron-owned goroutine or to another job's run.
func (s *Scheduler) runOne(j *job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler: evaluation panicked", "assertion_urn", j.assertion.Urn, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	result, err := s.engine.Evaluate(ctx, j.assertion, j.parameters, domain.AssertionEvaluationContext{})
	if err != nil {
		if ctx.Err() != nil {
			err = evalerr.Wrap(evalerr.KindEvaluationTimeout, fmt.Sprintf("evaluation exceeded %s", s.timeout), err)
			slog.Error("scheduler: evaluation timed out", "assertion_urn", j.assertion.Urn, "timeout", s.timeout, "error", err)
			return
		}
		slog.Error("scheduler: evaluation failed", "assertion_urn", j.assertion.Urn, "error", err)
		return
	}

	slog.Info("scheduler: evaluation complete", "assertion_urn", j.assertion.Urn, "result", result.Type)
}
