package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acryl-data/monitors/internal/domain"
	"github.com/acryl-data/monitors/internal/evalerr"
	"github.com/acryl-data/monitors/internal/evaluator"
)

type fakeEvaluator struct {
	assertionType domain.AssertionType
	result        domain.AssertionEvaluationResult
	err           error
}

func (e *fakeEvaluator) Type() domain.AssertionType { return e.assertionType }

func (e *fakeEvaluator) Evaluate(_ context.Context, _ domain.Assertion, _ *domain.AssertionEvaluationParameters, _ domain.AssertionEvaluationContext) (domain.AssertionEvaluationResult, error) {
	return e.result, e.err
}

type recordingHandler struct {
	calls int
}

func (h *recordingHandler) Handle(context.Context, domain.Assertion, *domain.AssertionEvaluationParameters, domain.AssertionEvaluationResult, domain.AssertionEvaluationContext) {
	h.calls++
}

type panickingHandler struct{}

func (panickingHandler) Handle(context.Context, domain.Assertion, *domain.AssertionEvaluationParameters, domain.AssertionEvaluationResult, domain.AssertionEvaluationContext) {
	panic("boom")
}

func TestEvaluate_UnknownAssertionType_ReturnsError(t *testing.T) {
	e := New(nil, nil)
	_, err := e.Evaluate(context.Background(), domain.Assertion{Type: domain.AssertionTypeFreshness}, nil, domain.AssertionEvaluationContext{})
	require.Error(t, err)
	assert.True(t, evalerr.Is(err, evalerr.KindUnknownAssertionType))
}

func TestEvaluate_InvokesAllResultHandlers(t *testing.T) {
	ev := &fakeEvaluator{assertionType: domain.AssertionTypeFreshness, result: domain.AssertionEvaluationResult{Type: domain.AssertionResultSuccess}}
	h1, h2 := &recordingHandler{}, &recordingHandler{}
	e := New([]evaluator.Evaluator{ev}, []ResultHandler{h1, h2})

	_, err := e.Evaluate(context.Background(), domain.Assertion{Type: domain.AssertionTypeFreshness}, nil, domain.AssertionEvaluationContext{})
	require.NoError(t, err)
	assert.Equal(t, 1, h1.calls)
	assert.Equal(t, 1, h2.calls)
}

func TestEvaluate_DryRun_SkipsResultHandlers(t *testing.T) {
	ev := &fakeEvaluator{assertionType: domain.AssertionTypeFreshness, result: domain.AssertionEvaluationResult{Type: domain.AssertionResultSuccess}}
	h1 := &recordingHandler{}
	e := New([]evaluator.Evaluator{ev}, []ResultHandler{h1})

	_, err := e.Evaluate(context.Background(), domain.Assertion{Type: domain.AssertionTypeFreshness}, nil, domain.AssertionEvaluationContext{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 0, h1.calls)
}

func TestEvaluate_HandlerPanic_IsContainedAndOthersStillRun(t *testing.T) {
	ev := &fakeEvaluator{assertionType: domain.AssertionTypeFreshness, result: domain.AssertionEvaluationResult{Type: domain.AssertionResultSuccess}}
	h1 := &recordingHandler{}
	e := New([]evaluator.Evaluator{ev}, []ResultHandler{panickingHandler{}, h1})

	result, err := e.Evaluate(context.Background(), domain.Assertion{Type: domain.AssertionTypeFreshness}, nil, domain.AssertionEvaluationContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.AssertionResultSuccess, result.Type)
	assert.Equal(t, 1, h1.calls)
}

func TestEvaluate_EvaluatorError_PropagatesAndSkipsHandlers(t *testing.T) {
	ev := &fakeEvaluator{assertionType: domain.AssertionTypeFreshness, err: evalerr.New(evalerr.KindWarehouseTransient, "boom")}
	h1 := &recordingHandler{}
	e := New([]evaluator.Evaluator{ev}, []ResultHandler{h1})

	_, err := e.Evaluate(context.Background(), domain.Assertion{Type: domain.AssertionTypeFreshness}, nil, domain.AssertionEvaluationContext{})
	require.Error(t, err)
	assert.Equal(t, 0, h1.calls)
}
