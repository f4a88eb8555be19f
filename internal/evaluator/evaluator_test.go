package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acryl-data/monitors/internal/connection"
	"github.com/acryl-data/monitors/internal/domain"
	"github.com/acryl-data/monitors/internal/evalerr"
	"github.com/acryl-data/monitors/internal/source"
)

type fakeConnection struct {
	urn string
}

func (c *fakeConnection) Urn() string                                { return c.urn }
func (c *fakeConnection) PlatformUrn() string                        { return c.urn }
func (c *fakeConnection) GetClient(_ context.Context) (any, error) { return nil, nil }

type fakeProvider struct {
	conn connection.Connection
}

func (p *fakeProvider) GetConnection(_ context.Context, _ string) (connection.Connection, error) {
	return p.conn, nil
}

type fakeSource struct {
	events    []domain.EntityEvent
	err       error
	gotURN    string
	gotType   domain.EntityEventType
	gotWindow domain.Window
}

func (s *fakeSource) GetEntityEvents(_ context.Context, entityURN string, eventType domain.EntityEventType, window domain.Window, _ map[string]any) ([]domain.EntityEvent, error) {
	s.gotURN = entityURN
	s.gotType = eventType
	s.gotWindow = window
	return s.events, s.err
}

type fakeSourceProvider struct {
	src *fakeSource
}

func (p *fakeSourceProvider) CreateSource(connection.Connection) (source.Source, error) {
	return p.src, nil
}

func freshnessAssertion(scheduleType domain.FreshnessAssertionScheduleType) domain.Assertion {
	connURN := "urn:li:dataPlatform:snowflake"
	return domain.Assertion{
		Urn:           "urn:li:assertion:1",
		Type:          domain.AssertionTypeFreshness,
		ConnectionUrn: &connURN,
		Entity: domain.AssertionEntity{
			Urn:         "urn:li:dataset:(urn:li:dataPlatform:snowflake,db.schema.table,PROD)",
			PlatformUrn: connURN,
		},
		FreshnessAssertion: &domain.FreshnessAssertion{
			Type: domain.FreshnessAssertionTypeDatasetChange,
			Schedule: domain.FreshnessAssertionSchedule{
				Type: scheduleType,
			},
		},
	}
}

func newTestEvaluator(src *fakeSource) *FreshnessEvaluator {
	return New(&fakeProvider{conn: &fakeConnection{urn: "urn:li:dataPlatform:snowflake"}}, &fakeSourceProvider{src: src})
}

func TestEvaluate_FixedInterval_EventsFound_ReturnsSuccess(t *testing.T) {
	a := freshnessAssertion(domain.FreshnessScheduleTypeFixedInterval)
	a.FreshnessAssertion.Schedule.FixedInterval = &domain.FixedIntervalSchedule{
		Unit: domain.CalendarIntervalHour, Multiple: 1,
	}

	src := &fakeSource{events: []domain.EntityEvent{{EventType: domain.EntityEventInformationSchemaUpdate, EventTime: time.Now().UnixMilli()}}}
	e := newTestEvaluator(src)

	result, err := e.Evaluate(context.Background(), a, nil, domain.AssertionEvaluationContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.AssertionResultSuccess, result.Type)
	assert.Equal(t, domain.EntityEventInformationSchemaUpdate, src.gotType)
	assert.Equal(t, int64(3600000), src.gotWindow.EndMs-src.gotWindow.StartMs)
}

func TestEvaluate_FixedInterval_NoEvents_ReturnsFailure(t *testing.T) {
	a := freshnessAssertion(domain.FreshnessScheduleTypeFixedInterval)
	a.FreshnessAssertion.Schedule.FixedInterval = &domain.FixedIntervalSchedule{
		Unit: domain.CalendarIntervalMinute, Multiple: 10,
	}

	e := newTestEvaluator(&fakeSource{events: nil})

	result, err := e.Evaluate(context.Background(), a, nil, domain.AssertionEvaluationContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.AssertionResultFailure, result.Type)
}

func TestEvaluate_FixedInterval_UnsupportedUnit_ReturnsError(t *testing.T) {
	a := freshnessAssertion(domain.FreshnessScheduleTypeFixedInterval)
	a.FreshnessAssertion.Schedule.FixedInterval = &domain.FixedIntervalSchedule{
		Unit: domain.CalendarIntervalDay, Multiple: 1,
	}

	e := newTestEvaluator(&fakeSource{})

	_, err := e.Evaluate(context.Background(), a, nil, domain.AssertionEvaluationContext{})
	require.Error(t, err)
	assert.True(t, evalerr.Is(err, evalerr.KindUnsupportedUnit))
}

func TestEvaluate_NilConnection_ReturnsConnectionUnavailable(t *testing.T) {
	a := freshnessAssertion(domain.FreshnessScheduleTypeFixedInterval)
	a.FreshnessAssertion.Schedule.FixedInterval = &domain.FixedIntervalSchedule{Unit: domain.CalendarIntervalHour, Multiple: 1}

	e := New(&fakeProvider{conn: nil}, &fakeSourceProvider{src: &fakeSource{}})
	_, err := e.Evaluate(context.Background(), a, nil, domain.AssertionEvaluationContext{})
	require.Error(t, err)
	assert.True(t, evalerr.Is(err, evalerr.KindConnectionUnavailable))
}

func TestEvaluate_DefaultParameters_WhenNil_UsesInformationSchema(t *testing.T) {
	a := freshnessAssertion(domain.FreshnessScheduleTypeFixedInterval)
	a.FreshnessAssertion.Schedule.FixedInterval = &domain.FixedIntervalSchedule{Unit: domain.CalendarIntervalHour, Multiple: 1}

	src := &fakeSource{events: []domain.EntityEvent{{EventType: domain.EntityEventInformationSchemaUpdate, EventTime: 1}}}
	e := newTestEvaluator(src)

	_, err := e.Evaluate(context.Background(), a, nil, domain.AssertionEvaluationContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.EntityEventInformationSchemaUpdate, src.gotType)
}

func TestEvaluate_Cron_ComputesWindowFromPrevToNextFire(t *testing.T) {
	a := freshnessAssertion(domain.FreshnessScheduleTypeCron)
	a.FreshnessAssertion.Schedule.Cron = &domain.FreshnessCronSchedule{
		Cron:     "*/5 * * * *",
		Timezone: "UTC",
	}

	src := &fakeSource{events: []domain.EntityEvent{{EventType: domain.EntityEventInformationSchemaUpdate, EventTime: 1}}}
	e := newTestEvaluator(src)

	result, err := e.Evaluate(context.Background(), a, nil, domain.AssertionEvaluationContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.AssertionResultSuccess, result.Type)
	assert.True(t, src.gotWindow.StartMs < src.gotWindow.EndMs)
}

func TestEvaluate_Cron_WithWindowStartOffset(t *testing.T) {
	a := freshnessAssertion(domain.FreshnessScheduleTypeCron)
	offset := int64(600000)
	a.FreshnessAssertion.Schedule.Cron = &domain.FreshnessCronSchedule{
		Cron:                "*/5 * * * *",
		Timezone:            "UTC",
		WindowStartOffsetMs: &offset,
	}

	src := &fakeSource{}
	e := newTestEvaluator(src)

	_, err := e.Evaluate(context.Background(), a, nil, domain.AssertionEvaluationContext{})
	require.NoError(t, err)
	assert.Equal(t, offset, src.gotWindow.EndMs-src.gotWindow.StartMs)
}
