// Package domain defines the core business types shared across monitorsd.
// These types represent the catalog's data model — not GraphQL or SQL
// specifics.
//
// Design note on JSON tags in domain types.
// Domain types carry json tags because they are bound directly from the
// upstream catalog's GraphQL responses. This is intentional: Go's stdlib
// encoding/json uses struct tags for field mapping, and having separate
// wire-response types for every domain model would add boilerplate
// without measurable benefit. Field comments name the GraphQL field each
// tag was aliased from where it isn't obvious from the tag itself.
//
// Internal-only fields (e.g. a lazily-initialized client handle) are
// tagged with `json:"-"` since they never round-trip through the wire.
package domain

import (
	"encoding/json"
	"errors"
)

// ErrUnknownEntityType indicates a urn could not be classified into a
// known catalog entity type.
var ErrUnknownEntityType = errors.New("unknown entity type")

// MonitorType enumerates the kinds of monitor a catalog entity can carry.
type MonitorType string

const (
	MonitorTypeAssertion MonitorType = "ASSERTION"
)

// AssertionType enumerates the kinds of assertion a catalog entity can carry.
type AssertionType string

const (
	AssertionTypeDataset   AssertionType = "DATASET"
	AssertionTypeFreshness AssertionType = "FRESHNESS"
)

// FreshnessAssertionType enumerates the freshness assertion sub-kinds.
// DATASET_CHANGE is the only one currently supported end to end.
type FreshnessAssertionType string

const (
	FreshnessAssertionTypeDatasetChange FreshnessAssertionType = "DATASET_CHANGE"
)

// FreshnessAssertionScheduleType is the tag of the FreshnessAssertionSchedule union.
type FreshnessAssertionScheduleType string

const (
	FreshnessScheduleTypeCron          FreshnessAssertionScheduleType = "CRON"
	FreshnessScheduleTypeFixedInterval FreshnessAssertionScheduleType = "FIXED_INTERVAL"
)

// CalendarInterval is the unit of a FixedIntervalSchedule.
type CalendarInterval string

const (
	CalendarIntervalMinute CalendarInterval = "MINUTE"
	CalendarIntervalHour   CalendarInterval = "HOUR"
	CalendarIntervalDay    CalendarInterval = "DAY"
)

// AssertionResultType is the pass/fail outcome of an evaluation.
type AssertionResultType string

const (
	AssertionResultSuccess AssertionResultType = "SUCCESS"
	AssertionResultFailure AssertionResultType = "FAILURE"
)

// DatasetFreshnessSourceType identifies where the freshness signal is read from.
type DatasetFreshnessSourceType string

const (
	SourceTypeFieldValue         DatasetFreshnessSourceType = "FIELD_VALUE"
	SourceTypeInformationSchema  DatasetFreshnessSourceType = "INFORMATION_SCHEMA"
	SourceTypeAuditLog           DatasetFreshnessSourceType = "AUDIT_LOG"
)

// ValidDatasetFreshnessSourceType reports whether s names a known source type.
func ValidDatasetFreshnessSourceType(s string) bool {
	switch DatasetFreshnessSourceType(s) {
	case SourceTypeFieldValue, SourceTypeInformationSchema, SourceTypeAuditLog:
		return true
	}
	return false
}

// EntityEventType enumerates the kinds of event a source adapter can surface.
// Only the first three are producible by the adapters in this service;
// the DATA_JOB_RUN_* variants are part of the upstream type system but are
// never emitted here (no data-job source adapter is implemented).
type EntityEventType string

const (
	EntityEventFieldUpdate               EntityEventType = "FIELD_UPDATE"
	EntityEventInformationSchemaUpdate   EntityEventType = "INFORMATION_SCHEMA_UPDATE"
	EntityEventAuditLogOperation         EntityEventType = "AUDIT_LOG_OPERATION"
	EntityEventDataJobRunCompletedOK     EntityEventType = "DATA_JOB_RUN_COMPLETED_SUCCESS"
	EntityEventDataJobRunCompletedFailed EntityEventType = "DATA_JOB_RUN_COMPLETED_FAILURE"
)

// AssertionEvaluationParametersType is the tag of the AssertionEvaluationParameters union.
type AssertionEvaluationParametersType string

const (
	EvaluationParametersDatasetFreshness AssertionEvaluationParametersType = "DATASET_FRESHNESS"
)

// CronSchedule is the outer job-trigger schedule: it governs when the
// scheduler fires an evaluation, distinct from FreshnessAssertionSchedule
// which governs the shape of the validation window computed inside one
// evaluation.
type CronSchedule struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone"`
}

// FreshnessCronSchedule describes a freshness window driven by a cron
// expression. WindowStartOffsetMs, when set, fixes the window start as an
// offset before the next fire instead of deriving it from the previous fire.
type FreshnessCronSchedule struct {
	Cron                string `json:"cron"`
	Timezone            string `json:"timezone"`
	WindowStartOffsetMs *int64 `json:"windowStartOffsetMs,omitempty"`
}

// FixedIntervalSchedule describes a freshness window of fixed duration
// ending at evaluation time.
type FixedIntervalSchedule struct {
	Unit     CalendarInterval `json:"unit"`
	Multiple int              `json:"multiple"`
}

// FreshnessAssertionSchedule is a tagged union: exactly one of Cron or
// FixedInterval is populated, selected by Type.
type FreshnessAssertionSchedule struct {
	Type          FreshnessAssertionScheduleType `json:"type"`
	Cron          *FreshnessCronSchedule         `json:"cron,omitempty"`
	FixedInterval *FixedIntervalSchedule         `json:"fixedInterval,omitempty"`
}

// FreshnessAssertion is the FRESHNESS-typed body of an Assertion.
type FreshnessAssertion struct {
	Type     FreshnessAssertionType     `json:"type"`
	Schedule FreshnessAssertionSchedule `json:"schedule"`
}

// SchemaFieldSpec identifies a field used as a FIELD_VALUE freshness signal.
type SchemaFieldSpec struct {
	Path       string  `json:"path"`
	Type       string  `json:"type"`
	NativeType *string `json:"nativeType,omitempty"`
}

// AuditLogSpec filters an AUDIT_LOG freshness signal.
type AuditLogSpec struct {
	OperationTypes []string `json:"operationTypes,omitempty"`
	UserName       *string  `json:"userName,omitempty"`
}

// DatasetFreshnessAssertionParameters selects and configures the freshness
// signal source. Exactly one of Field or AuditLog is populated, matching
// SourceType.
type DatasetFreshnessAssertionParameters struct {
	SourceType DatasetFreshnessSourceType `json:"sourceType"`
	Field      *SchemaFieldSpec           `json:"field,omitempty"`
	AuditLog   *AuditLogSpec              `json:"auditLog,omitempty"`
}

// AssertionEvaluationParameters is a tagged union of per-assertion-kind
// evaluation parameters. Only DATASET_FRESHNESS is populated today.
type AssertionEvaluationParameters struct {
	Type                        AssertionEvaluationParametersType   `json:"type"`
	DatasetFreshnessParameters *DatasetFreshnessAssertionParameters `json:"datasetFreshnessParameters,omitempty"`
}

// AssertionEntity identifies the dataset (or other entity) an assertion is
// attached to, along with the platform it lives in.
type AssertionEntity struct {
	Urn              string   `json:"urn"`
	PlatformUrn      string   `json:"platformUrn"`
	PlatformInstance *string  `json:"platformInstance,omitempty"`
	SubTypes         []string `json:"subTypes,omitempty"`
}

// Assertion is a declarative rule attached to an entity. ConnectionUrn is
// the key consulted by the Connection Provider; in the current contract
// it is identical to Entity.PlatformUrn.
type Assertion struct {
	Urn                 string               `json:"urn"`
	Type                AssertionType        `json:"type"`
	Entity              AssertionEntity      `json:"entity"`
	ConnectionUrn       *string              `json:"connectionUrn,omitempty"`
	FreshnessAssertion  *FreshnessAssertion  `json:"freshnessAssertion,omitempty"`
}

// ResolvedConnectionUrn returns the urn the Connection Provider should be
// asked about: the explicit ConnectionUrn if set, else the entity's
// platform urn.
func (a Assertion) ResolvedConnectionUrn() string {
	if a.ConnectionUrn != nil && *a.ConnectionUrn != "" {
		return *a.ConnectionUrn
	}
	return a.Entity.PlatformUrn
}

// AssertionEvaluationSpec is the triple that uniquely determines one
// scheduled job: the assertion, the outer job-trigger schedule, and the
// evaluation parameters.
type AssertionEvaluationSpec struct {
	Assertion  Assertion                      `json:"assertion"`
	Schedule   CronSchedule                   `json:"schedule"`
	Parameters *AssertionEvaluationParameters `json:"parameters,omitempty"`
}

// AssertionMonitor groups the assertion evaluation specs owned by one Monitor.
type AssertionMonitor struct {
	Assertions []AssertionEvaluationSpec `json:"assertions"`
}

// Monitor is a catalog entity that groups one or more assertion evaluation
// specs under a single lifecycle.
type Monitor struct {
	Urn              string            `json:"urn"`
	Type             MonitorType       `json:"type"`
	AssertionMonitor *AssertionMonitor `json:"assertionMonitor,omitempty"`
}

// EntityEvent is a timestamped record of a qualifying activity surfaced by
// a source adapter.
type EntityEvent struct {
	EventType EntityEventType `json:"type"`
	EventTime int64           `json:"time"`
}

// AssertionEvaluationContext carries per-evaluation flags. DryRun
// evaluations still produce a result (invariant I5) but never reach a
// result handler.
type AssertionEvaluationContext struct {
	DryRun bool
}

// AssertionEvaluationResult is the outcome of evaluating one assertion.
// Parameters carries the matching events on SUCCESS; it is nil on FAILURE.
type AssertionEvaluationResult struct {
	Type       AssertionResultType `json:"type"`
	Parameters map[string]any      `json:"parameters,omitempty"`
}

// Window is the [StartMs, EndMs] validation window an evaluator hands to a
// source adapter. Invariant I2: StartMs <= EndMs always holds.
type Window struct {
	StartMs int64
	EndMs   int64
}

// RawEntity is the loosely-typed shape a Monitor or Assertion is decoded
// from before being normalized into the strict domain structs above. It
// mirrors the permissive, extra-fields-ignored decoding the upstream
// catalog's GraphQL responses require (relationships, nested info blocks).
type RawEntity struct {
	Urn  string          `json:"urn"`
	Info json.RawMessage `json:"info,omitempty"`
}
