// Package engine dispatches an assertion to its registered evaluator and
// fans the result out to every configured result handler.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/acryl-data/monitors/internal/domain"
	"github.com/acryl-data/monitors/internal/evalerr"
	"github.com/acryl-data/monitors/internal/evaluator"
)

// ResultHandler is notified of every non-dry-run evaluation result.
type ResultHandler interface {
	Handle(ctx context.Context, assertion domain.Assertion, parameters *domain.AssertionEvaluationParameters, result domain.AssertionEvaluationResult, evalCtx domain.AssertionEvaluationContext)
}

// Engine looks up the evaluator registered for an assertion's type and
// invokes every result handler once evaluation completes.
type Engine struct {
	evaluators     map[domain.AssertionType]evaluator.Evaluator
	resultHandlers []ResultHandler
}

// New builds an Engine from a set of evaluators (keyed by their own
// declared Type()) and an ordered list of result handlers.
func New(evaluators []evaluator.Evaluator, resultHandlers []ResultHandler) *Engine {
	byType := make(map[domain.AssertionType]evaluator.Evaluator, len(evaluators))
	for _, e := range evaluators {
		byType[e.Type()] = e
	}
	return &Engine{evaluators: byType, resultHandlers: resultHandlers}
}

// Evaluate dispatches to the registered evaluator for assertion.Type, then
// — unless evalCtx.DryRun is set — invokes every result handler with the
// outcome. Each handler invocation is isolated: a panic is recovered, logged
// and swallowed so one misbehaving handler never prevents the others from
// running or the result from being returned to the caller.
func (e *Engine) Evaluate(ctx context.Context, assertion domain.Assertion, parameters *domain.AssertionEvaluationParameters, evalCtx domain.AssertionEvaluationContext) (domain.AssertionEvaluationResult, error) {
	ev, ok := e.evaluators[assertion.Type]
	if !ok {
		return domain.AssertionEvaluationResult{}, evalerr.New(evalerr.KindUnknownAssertionType, fmt.Sprintf("no evaluator registered for assertion type %q", assertion.Type))
	}

	result, err := ev.Evaluate(ctx, assertion, parameters, evalCtx)
	if err != nil {
		return domain.AssertionEvaluationResult{}, err
	}

	if !evalCtx.DryRun {
		for _, h := range e.resultHandlers {
			e.invokeHandlerSafely(ctx, h, assertion, parameters, result, evalCtx)
		}
	}

	return result, nil
}

func (e *Engine) invokeHandlerSafely(ctx context.Context, h ResultHandler, assertion domain.Assertion, parameters *domain.AssertionEvaluationParameters, result domain.AssertionEvaluationResult, evalCtx domain.AssertionEvaluationContext) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "engine: result handler panicked", "assertion_urn", assertion.Urn, "panic", r)
		}
	}()
	h.Handle(ctx, assertion, parameters, result, evalCtx)
}
