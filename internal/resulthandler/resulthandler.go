// Package resulthandler turns an AssertionEvaluationResult into a catalog
// write: an AssertionRunEvent metadata change proposal.
package resulthandler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/acryl-data/monitors/internal/domain"
)

// Emitter is the subset of catalog.Client this package depends on.
type Emitter interface {
	EmitMCP(ctx context.Context, mcp any) error
}

// assertionResult mirrors DataHub's AssertionResultClass aspect shape.
type assertionResult struct {
	Type          string            `json:"type"`
	NativeResults map[string]string `json:"nativeResults,omitempty"`
}

// assertionRunEvent mirrors DataHub's AssertionRunEventClass aspect shape.
type assertionRunEvent struct {
	TimestampMillis int64           `json:"timestampMillis"`
	RunID           string          `json:"runId"`
	AsserteeUrn     string          `json:"asserteeUrn"`
	Status          string          `json:"status"`
	AssertionUrn    string          `json:"assertionUrn"`
	Result          assertionResult `json:"result"`
}

// systemMetadata mirrors DataHub's SystemMetadataClass.
type systemMetadata struct {
	RunID        string `json:"runId"`
	LastObserved int64  `json:"lastObserved"`
}

// metadataChangeProposal is the wire envelope a catalog write is submitted as.
type metadataChangeProposal struct {
	EntityUrn      string         `json:"entityUrn"`
	AspectName     string         `json:"aspectName"`
	ChangeType     string         `json:"changeType"`
	Aspect         any            `json:"aspect"`
	SystemMetadata systemMetadata `json:"systemMetadata"`
}

// AssertionRunEventHandler emits an AssertionRunEvent MCP for every
// evaluation result. Emit failures are logged and swallowed — a handler
// implementation never aborts the engine's evaluation.
type AssertionRunEventHandler struct {
	emitter Emitter
}

// New builds an AssertionRunEventHandler over the given catalog emitter.
func New(emitter Emitter) *AssertionRunEventHandler {
	return &AssertionRunEventHandler{emitter: emitter}
}

func (h *AssertionRunEventHandler) Handle(ctx context.Context, assertion domain.Assertion, _ *domain.AssertionEvaluationParameters, result domain.AssertionEvaluationResult, _ domain.AssertionEvaluationContext) {
	nowMs := time.Now().UnixMilli()
	runID := fmt.Sprintf("native-%s-%d", assertion.Urn, nowMs)

	resultType := "FAILURE"
	if result.Type == domain.AssertionResultSuccess {
		resultType = "SUCCESS"
	}

	nativeResults := nativeResultsFromParameters(result.Parameters)

	event := assertionRunEvent{
		TimestampMillis: nowMs,
		RunID:           runID,
		AsserteeUrn:     assertion.Entity.Urn,
		Status:          "COMPLETE",
		AssertionUrn:    assertion.Urn,
		Result: assertionResult{
			Type:          resultType,
			NativeResults: nativeResults,
		},
	}

	mcp := metadataChangeProposal{
		EntityUrn:  assertion.Urn,
		AspectName: "assertionRunEvent",
		ChangeType: "UPSERT",
		Aspect:     event,
		SystemMetadata: systemMetadata{
			RunID:        runID,
			LastObserved: nowMs,
		},
	}

	if err := h.emitter.EmitMCP(ctx, mcp); err != nil {
		slog.ErrorContext(ctx, "resulthandler: failed to emit assertion run event; result will not be viewable in the catalog",
			"assertion_urn", assertion.Urn, "entity_urn", assertion.Entity.Urn, "result_type", result.Type, "error", err)
		return
	}
	slog.InfoContext(ctx, "resulthandler: emitted assertion run event", "assertion_urn", assertion.Urn, "entity_urn", assertion.Entity.Urn, "result_type", result.Type)
}

func nativeResultsFromParameters(parameters map[string]any) map[string]string {
	if parameters == nil {
		return nil
	}
	events, ok := parameters["events"]
	if !ok || events == nil {
		return nil
	}
	b, err := json.Marshal(events)
	if err != nil {
		return nil
	}
	return map[string]string{"events": string(b)}
}
