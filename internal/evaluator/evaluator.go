// Package evaluator implements per-assertion-type evaluation logic. The
// only evaluator implemented today is FreshnessEvaluator, for
// AssertionType FRESHNESS.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/acryl-data/monitors/internal/connection"
	"github.com/acryl-data/monitors/internal/domain"
	"github.com/acryl-data/monitors/internal/evalerr"
	"github.com/acryl-data/monitors/internal/source"
)

// Evaluator produces an AssertionEvaluationResult for one assertion.
type Evaluator interface {
	Type() domain.AssertionType
	Evaluate(ctx context.Context, assertion domain.Assertion, parameters *domain.AssertionEvaluationParameters, evalCtx domain.AssertionEvaluationContext) (domain.AssertionEvaluationResult, error)
}

// SourceProvider builds a source.Source for a resolved Connection,
// dispatching on the connection's concrete platform type.
type SourceProvider interface {
	CreateSource(conn connection.Connection) (source.Source, error)
}

// DefaultSourceProvider dispatches to the adapter matching the concrete
// Connection implementation returned by the connection package's
// constructors.
type DefaultSourceProvider struct{}

func (DefaultSourceProvider) CreateSource(conn connection.Connection) (source.Source, error) {
	switch c := conn.(type) {
	case *connection.SnowflakeConnection:
		return source.NewSnowflakeSource(c), nil
	case *connection.BigQueryConnection:
		return source.NewBigQuerySource(c), nil
	case *connection.RedshiftConnection:
		return source.NewRedshiftSource(c), nil
	default:
		return nil, evalerr.New(evalerr.KindUnsupportedPlatform, fmt.Sprintf("no source adapter registered for connection type %T", conn))
	}
}

// FreshnessEvaluator evaluates FRESHNESS assertions by resolving a
// Connection, computing a validation window (CRON or FIXED_INTERVAL), and
// checking whether the source adapter surfaces any matching events in it.
type FreshnessEvaluator struct {
	connections connection.Provider
	sources     SourceProvider
}

// New builds a FreshnessEvaluator.
func New(connections connection.Provider, sources SourceProvider) *FreshnessEvaluator {
	if sources == nil {
		sources = DefaultSourceProvider{}
	}
	return &FreshnessEvaluator{connections: connections, sources: sources}
}

func (e *FreshnessEvaluator) Type() domain.AssertionType { return domain.AssertionTypeFreshness }

func (e *FreshnessEvaluator) Evaluate(ctx context.Context, assertion domain.Assertion, parameters *domain.AssertionEvaluationParameters, evalCtx domain.AssertionEvaluationContext) (domain.AssertionEvaluationResult, error) {
	connURN := assertion.ResolvedConnectionUrn()
	if connURN == "" {
		return domain.AssertionEvaluationResult{}, evalerr.New(evalerr.KindMalformedAssertion, fmt.Sprintf("assertion %s has no resolvable connection urn", assertion.Urn))
	}

	conn, err := e.connections.GetConnection(ctx, connURN)
	if err != nil {
		return domain.AssertionEvaluationResult{}, err
	}
	if conn == nil {
		return domain.AssertionEvaluationResult{}, evalerr.New(evalerr.KindConnectionUnavailable, fmt.Sprintf("unable to resolve connection for urn %s", connURN))
	}

	resolvedParams := defaultFreshnessParameters
	if parameters != nil {
		resolvedParams = *parameters
	}

	if assertion.FreshnessAssertion == nil {
		return domain.AssertionEvaluationResult{}, evalerr.New(evalerr.KindMalformedAssertion, fmt.Sprintf("assertion %s has no freshnessAssertion body", assertion.Urn))
	}

	switch assertion.FreshnessAssertion.Schedule.Type {
	case domain.FreshnessScheduleTypeCron:
		return e.evaluateCron(ctx, assertion, resolvedParams, conn)
	case domain.FreshnessScheduleTypeFixedInterval:
		return e.evaluateFixedInterval(ctx, assertion, resolvedParams, conn)
	default:
		return domain.AssertionEvaluationResult{}, evalerr.New(evalerr.KindMalformedAssertion, fmt.Sprintf("unsupported freshness schedule type %q", assertion.FreshnessAssertion.Schedule.Type))
	}
}

func (e *FreshnessEvaluator) evaluateCron(ctx context.Context, assertion domain.Assertion, parameters domain.AssertionEvaluationParameters, conn connection.Connection) (domain.AssertionEvaluationResult, error) {
	cronSchedule := assertion.FreshnessAssertion.Schedule.Cron
	if cronSchedule == nil {
		return domain.AssertionEvaluationResult{}, evalerr.New(evalerr.KindMalformedAssertion, "CRON schedule type declared but no cron schedule present")
	}

	basic := domain.CronSchedule{Cron: cronSchedule.Cron, Timezone: cronSchedule.Timezone}
	now := time.Now()

	nextFireMs, err := nextCronFireMs(basic, now)
	if err != nil {
		return domain.AssertionEvaluationResult{}, evalerr.Wrap(evalerr.KindMalformedAssertion, "compute next cron fire", err)
	}

	var startMs int64
	if cronSchedule.WindowStartOffsetMs != nil {
		startMs = nextFireMs - *cronSchedule.WindowStartOffsetMs
	} else {
		prevFireMs, err := prevCronFireMs(basic, now)
		if err != nil {
			return domain.AssertionEvaluationResult{}, evalerr.Wrap(evalerr.KindMalformedAssertion, "compute previous cron fire", err)
		}
		startMs = prevFireMs
	}

	window := domain.Window{StartMs: startMs, EndMs: nextFireMs}
	return e.evaluateWindowEvent(ctx, window, assertion, parameters, conn)
}

func (e *FreshnessEvaluator) evaluateFixedInterval(ctx context.Context, assertion domain.Assertion, parameters domain.AssertionEvaluationParameters, conn connection.Connection) (domain.AssertionEvaluationResult, error) {
	fixedSchedule := assertion.FreshnessAssertion.Schedule.FixedInterval
	if fixedSchedule == nil {
		return domain.AssertionEvaluationResult{}, evalerr.New(evalerr.KindMalformedAssertion, "FIXED_INTERVAL schedule type declared but no fixed interval schedule present")
	}

	endMs := time.Now().UnixMilli()
	startMs, err := fixedIntervalStartMs(endMs, *fixedSchedule)
	if err != nil {
		return domain.AssertionEvaluationResult{}, err
	}

	window := domain.Window{StartMs: startMs, EndMs: endMs}
	return e.evaluateWindowEvent(ctx, window, assertion, parameters, conn)
}

func (e *FreshnessEvaluator) evaluateWindowEvent(ctx context.Context, window domain.Window, assertion domain.Assertion, parameters domain.AssertionEvaluationParameters, conn connection.Connection) (domain.AssertionEvaluationResult, error) {
	eventType, sourceParams, err := eventTypeAndParameters(parameters)
	if err != nil {
		return domain.AssertionEvaluationResult{}, err
	}

	src, err := e.sources.CreateSource(conn)
	if err != nil {
		return domain.AssertionEvaluationResult{}, err
	}

	events, err := src.GetEntityEvents(ctx, assertion.Entity.Urn, eventType, window, sourceParams)
	if err != nil {
		return domain.AssertionEvaluationResult{}, fmt.Errorf("retrieve entity events for %s: %w", assertion.Entity.Urn, err)
	}

	if len(events) > 0 {
		return domain.AssertionEvaluationResult{
			Type:       domain.AssertionResultSuccess,
			Parameters: map[string]any{"events": events},
		}, nil
	}
	return domain.AssertionEvaluationResult{Type: domain.AssertionResultFailure}, nil
}
