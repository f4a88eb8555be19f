package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	bq "cloud.google.com/go/bigquery"
	"cloud.google.com/go/logging/logadmin"
	"github.com/sony/gobreaker"
	"google.golang.org/api/iterator"

	"github.com/acryl-data/monitors/internal/connection"
	"github.com/acryl-data/monitors/internal/domain"
	"github.com/acryl-data/monitors/internal/evalerr"
)

var bigquerySupportedColumnTypes = map[string]bool{"DATE": true, "DATETIME": true, "TIMESTAMP": true}

// bigqueryDefaultStatementTypes excludes ALTER — matching the upstream
// adapter's filter (see its "Note that Alter is not included" comment).
var bigqueryDefaultStatementTypes = []string{"INSERT", "UPDATE", "CREATE_TABLE", "CREATE_TABLE_AS_SELECT", "CREATE_EXTERNAL_TABLE", "CREATE_SNAPSHOT_TABLE"}

// BigQuerySource reads freshness signals from BigQuery's __TABLES__
// metadata view, arbitrary column watermarks, and Cloud Audit Logs.
type BigQuerySource struct {
	conn    *connection.BigQueryConnection
	breaker *gobreaker.CircuitBreaker
}

// NewBigQuerySource builds a BigQuerySource over an already-constructed connection.
func NewBigQuerySource(conn *connection.BigQueryConnection) *BigQuerySource {
	return &BigQuerySource{conn: conn, breaker: newBreaker("bigquery:" + conn.Urn())}
}

func (s *BigQuerySource) GetEntityEvents(ctx context.Context, entityURN string, eventType domain.EntityEventType, window domain.Window, parameters map[string]any) ([]domain.EntityEvent, error) {
	return withRetry(ctx, s.breaker, "bigquery", func() ([]domain.EntityEvent, error) {
		switch eventType {
		case domain.EntityEventInformationSchemaUpdate:
			return s.tablesMetadataEvents(ctx, entityURN, window)
		case domain.EntityEventFieldUpdate:
			return s.fieldUpdateEvents(ctx, entityURN, window, parameters)
		case domain.EntityEventAuditLogOperation:
			return s.auditLogEvents(ctx, entityURN, window, parameters)
		default:
			return nil, unsupportedEventType("bigquery", eventType)
		}
	})
}

func (s *BigQuerySource) client(ctx context.Context) (*bq.Client, error) {
	c, err := s.conn.GetClient(ctx)
	if err != nil {
		return nil, evalerr.Wrap(evalerr.KindConnectionUnavailable, "bigquery connection unavailable", err)
	}
	client, ok := c.(*bq.Client)
	if !ok {
		return nil, evalerr.New(evalerr.KindConnectionUnavailable, "bigquery connection client has unexpected type")
	}
	return client, nil
}

func (s *BigQuerySource) loggingClient(ctx context.Context) (*logadmin.Client, error) {
	client, err := s.conn.GetLoggingClient(ctx)
	if err != nil {
		return nil, evalerr.Wrap(evalerr.KindConnectionUnavailable, "bigquery logging connection unavailable", err)
	}
	return client, nil
}

// bigqueryAuditLogPageSize bounds each Cloud Logging Entries page.
const bigqueryAuditLogPageSize = 1000

// bigqueryLogTimeFormat is the RFC3339-with-microseconds form the Cloud
// Logging filter's timestamp comparison expects.
const bigqueryLogTimeFormat = "2006-01-02T15:04:05.000000Z"

func (s *BigQuerySource) auditLogEvents(ctx context.Context, entityURN string, window domain.Window, parameters map[string]any) ([]domain.EntityEvent, error) {
	project, dataset, table, err := datasetNameParts(entityURN)
	if err != nil {
		return nil, err
	}

	client, err := s.loggingClient(ctx)
	if err != nil {
		return nil, err
	}

	filter := bigqueryAuditLogFilter(project, dataset, table, window, parameters)
	it := client.Entries(ctx, logadmin.Filter(filter), logadmin.PageSize(bigqueryAuditLogPageSize))

	var events []domain.EntityEvent
	for {
		entry, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("audit log query: %w", err)
		}
		events = append(events, domain.EntityEvent{EventType: domain.EntityEventAuditLogOperation, EventTime: entry.Timestamp.UTC().UnixMilli()})
	}
	return events, nil
}

// bigqueryAuditLogFilter builds the Cloud Logging filter matching completed
// BigQuery query jobs that wrote to the target table within window,
// restricted to an allow-listed statementType and an optional
// principalEmail.
func bigqueryAuditLogFilter(project, dataset, table string, window domain.Window, parameters map[string]any) string {
	statementTypes := operationTypesFilter(parameters, bigqueryDefaultStatementTypes)
	quoted := make([]string, len(statementTypes))
	for i, t := range statementTypes {
		quoted[i] = fmt.Sprintf("%q", t)
	}
	statementFilter := strings.Join(quoted, " OR ")

	userFilter := ""
	if u, ok := userNameFilter(parameters); ok {
		userFilter = fmt.Sprintf(`AND protoPayload.authenticationInfo.principalEmail=%q`, u)
	}

	start := time.UnixMilli(window.StartMs).UTC().Format(bigqueryLogTimeFormat)
	end := time.UnixMilli(window.EndMs).UTC().Format(bigqueryLogTimeFormat)

	return fmt.Sprintf(`
		resource.type=("bigquery_project" OR "bigquery_dataset")
		AND
		(
			protoPayload.methodName="google.cloud.bigquery.v2.JobService.InsertJob"
			AND protoPayload.metadata.jobChange.job.jobStatus.jobState="DONE"
			AND NOT protoPayload.metadata.jobChange.job.jobStatus.errorResult:*
			AND protoPayload.metadata.jobChange.job.jobConfig.queryConfig.destinationTable="projects/%s/datasets/%s/tables/%s"
			AND protoPayload.metadata.jobChange.job.jobConfig.queryConfig.statementType=(%s)
		)
		%s
		AND timestamp >= "%s"
		AND timestamp < "%s"
	`, project, dataset, table, statementFilter, userFilter, start, end)
}

func (s *BigQuerySource) tablesMetadataEvents(ctx context.Context, entityURN string, window domain.Window) ([]domain.EntityEvent, error) {
	project, dataset, table, err := datasetNameParts(entityURN)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT last_modified_time
		FROM `+"`%s.%s.__TABLES__`"+`
		WHERE table_id="%s"
			AND last_modified_time >= %d
			AND last_modified_time <= %d
	`, project, dataset, table, window.StartMs, window.EndMs)

	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	it, err := client.Query(query).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("__TABLES__ query: %w", err)
	}

	var events []domain.EntityEvent
	for {
		var row []bq.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		ms, ok := row[0].(int64)
		if !ok {
			continue
		}
		events = append(events, domain.EntityEvent{EventType: domain.EntityEventInformationSchemaUpdate, EventTime: ms})
	}
	return events, nil
}

func (s *BigQuerySource) fieldUpdateEvents(ctx context.Context, entityURN string, window domain.Window, parameters map[string]any) ([]domain.EntityEvent, error) {
	project, dataset, table, err := datasetNameParts(entityURN)
	if err != nil {
		return nil, err
	}

	path, nativeType, ok := fieldSpec(parameters)
	if !ok {
		return nil, evalerr.New(evalerr.KindMalformedAssertion, "missing required inputs: column path and column type")
	}
	if !bigquerySupportedColumnTypes[strings.ToUpper(nativeType)] {
		return nil, evalerr.New(evalerr.KindUnsupportedColumnType, fmt.Sprintf("unsupported date column type %s", nativeType))
	}

	startExpr := bigqueryTimestampExpr(window.StartMs, nativeType)
	endExpr := bigqueryTimestampExpr(window.EndMs, nativeType)

	query := fmt.Sprintf(`
		SELECT %s as last_altered_date
		FROM %s.%s.%s
		WHERE %s >= (%s)
		AND %s <= (%s)
		ORDER BY %s DESC
	`, path, project, dataset, table, path, startExpr, path, endExpr, path)

	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	it, err := client.Query(query).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("field watermark query: %w", err)
	}

	var events []domain.EntityEvent
	for {
		var row []bq.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		ts, err := bigqueryRowTimestampMs(row[0])
		if err != nil {
			return nil, err
		}
		events = append(events, domain.EntityEvent{EventType: domain.EntityEventFieldUpdate, EventTime: ts})
	}
	return events, nil
}

func bigqueryRowTimestampMs(v bq.Value) (int64, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().UnixMilli(), nil
	case bq.NullTimestamp:
		if !t.Valid {
			return 0, fmt.Errorf("null timestamp value")
		}
		return t.Timestamp.UTC().UnixMilli(), nil
	default:
		return 0, fmt.Errorf("unexpected row value type %T", v)
	}
}

func bigqueryTimestampExpr(millis int64, columnType string) string {
	switch strings.ToUpper(columnType) {
	case "DATE":
		return fmt.Sprintf("DATE(TIMESTAMP_MILLIS(CAST(%d AS INT64)))", millis)
	case "DATETIME":
		return fmt.Sprintf("DATETIME(TIMESTAMP_MILLIS(CAST(%d AS INT64)), 'UTC')", millis)
	default:
		return fmt.Sprintf("TIMESTAMP_MILLIS(CAST(%d AS INT64))", millis)
	}
}
