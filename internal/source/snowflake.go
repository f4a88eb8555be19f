package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/acryl-data/monitors/internal/connection"
	"github.com/acryl-data/monitors/internal/domain"
	"github.com/acryl-data/monitors/internal/evalerr"
)

var snowflakeDefaultOperationTypes = []string{"INSERT", "UPDATE", "CREATE", "CREATE_TABLE", "CREATE_TABLE_AS_SELECT", "COPY"}

var snowflakeSupportedColumnTypes = map[string]bool{
	"DATE": true, "TIMESTAMP": true, "TIMESTAMP_TZ": true,
	"TIMESTAMP_LTZ": true, "TIMESTAMP_NTZ": true, "DATETIME": true,
}

// SnowflakeSource reads freshness signals from Snowflake's account_usage
// audit views, information_schema, and arbitrary column watermarks.
type SnowflakeSource struct {
	conn    *connection.SnowflakeConnection
	breaker *gobreaker.CircuitBreaker
}

// NewSnowflakeSource builds a SnowflakeSource over an already-constructed connection.
func NewSnowflakeSource(conn *connection.SnowflakeConnection) *SnowflakeSource {
	return &SnowflakeSource{conn: conn, breaker: newBreaker("snowflake:" + conn.Urn())}
}

func (s *SnowflakeSource) GetEntityEvents(ctx context.Context, entityURN string, eventType domain.EntityEventType, window domain.Window, parameters map[string]any) ([]domain.EntityEvent, error) {
	return withRetry(ctx, s.breaker, "snowflake", func() ([]domain.EntityEvent, error) {
		switch eventType {
		case domain.EntityEventAuditLogOperation:
			return s.auditLogEvents(ctx, entityURN, window, parameters)
		case domain.EntityEventInformationSchemaUpdate:
			return s.infoSchemaEvents(ctx, entityURN, window)
		case domain.EntityEventFieldUpdate:
			return s.fieldUpdateEvents(ctx, entityURN, window, parameters)
		default:
			return nil, unsupportedEventType("snowflake", eventType)
		}
	})
}

func (s *SnowflakeSource) db(ctx context.Context) (*sql.DB, error) {
	client, err := s.conn.GetClient(ctx)
	if err != nil {
		return nil, evalerr.Wrap(evalerr.KindConnectionUnavailable, "snowflake connection unavailable", err)
	}
	db, ok := client.(*sql.DB)
	if !ok {
		return nil, evalerr.New(evalerr.KindConnectionUnavailable, "snowflake connection client has unexpected type")
	}
	return db, nil
}

// account_usage.access_history can lag real time by up to three hours; not
// suitable for tight freshness windows (see upstream comment).
func (s *SnowflakeSource) auditLogEvents(ctx context.Context, entityURN string, window domain.Window, parameters map[string]any) ([]domain.EntityEvent, error) {
	catalog, schema, table, err := datasetNameParts(entityURN)
	if err != nil {
		return nil, err
	}

	opTypes := operationTypesFilter(parameters, snowflakeDefaultOperationTypes)
	quoted := make([]string, len(opTypes))
	for i, t := range opTypes {
		quoted[i] = "'" + t + "'"
	}
	opFilter := strings.Join(quoted, ",")

	userFilter := ""
	if u, ok := userNameFilter(parameters); ok {
		userFilter = fmt.Sprintf("AND LOWER(access_history.user_name) = '%s'", u)
	}

	query := fmt.Sprintf(`
		WITH exploded_access_history AS (
		SELECT
			access_history.query_id as query_id,
			access_history.query_start_time as query_start_time,
			updated_objects.value as updated_objects
		FROM
			snowflake.account_usage.access_history access_history,
			LATERAL FLATTEN(input => access_history.objects_modified) updated_objects
		WHERE access_history.query_start_time >= to_timestamp_ltz(%d, 3)
			AND access_history.query_start_time < to_timestamp_ltz(%d, 3)
			%s
		)
		SELECT
			(DATE_PART('EPOCH', exploded_access_history.query_start_time) * 1000) AS QUERY_START_MS
		FROM
			exploded_access_history as exploded_access_history
		INNER JOIN
			(SELECT * FROM snowflake.account_usage.query_history
			WHERE query_history.start_time >= to_timestamp_ltz(%d, 3)
				AND query_history.start_time < to_timestamp_ltz(%d, 3)
				AND query_history.query_type in (%s)) query_history
			ON exploded_access_history.query_id = query_history.query_id
		WHERE
			REGEXP_REPLACE(LOWER(exploded_access_history.updated_objects:objectName::STRING), '"|''', '') in ('%s.%s.%s')
		ORDER BY query_history.start_time DESC
	`, window.StartMs, window.EndMs, userFilter, window.StartMs, window.EndMs, opFilter, catalog, schema, table)

	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("audit log query: %w", err)
	}
	defer rows.Close()

	var events []domain.EntityEvent
	for rows.Next() {
		var queryStartMs float64
		if err := rows.Scan(&queryStartMs); err != nil {
			return nil, err
		}
		events = append(events, domain.EntityEvent{EventType: domain.EntityEventAuditLogOperation, EventTime: int64(queryStartMs)})
	}
	return events, rows.Err()
}

func (s *SnowflakeSource) infoSchemaEvents(ctx context.Context, entityURN string, window domain.Window) ([]domain.EntityEvent, error) {
	catalog, schema, table, err := datasetNameParts(entityURN)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT (DATE_PART('EPOCH', last_altered) * 1000) as last_altered
		FROM %s.information_schema.tables
		WHERE last_altered >= to_timestamp_ltz(%d, 3)
		AND last_altered < to_timestamp_ltz(%d, 3)
		AND table_name = '%s'
		AND table_schema = '%s'
		AND table_catalog = '%s'
	`, strings.ToUpper(catalog), window.StartMs, window.EndMs, strings.ToUpper(table), strings.ToUpper(schema), strings.ToUpper(catalog))

	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("information_schema query: %w", err)
	}
	defer rows.Close()

	var events []domain.EntityEvent
	for rows.Next() {
		var lastAltered float64
		if err := rows.Scan(&lastAltered); err != nil {
			return nil, err
		}
		events = append(events, domain.EntityEvent{EventType: domain.EntityEventInformationSchemaUpdate, EventTime: int64(lastAltered)})
	}
	return events, rows.Err()
}

func (s *SnowflakeSource) fieldUpdateEvents(ctx context.Context, entityURN string, window domain.Window, parameters map[string]any) ([]domain.EntityEvent, error) {
	catalog, schema, table, err := datasetNameParts(entityURN)
	if err != nil {
		return nil, err
	}

	path, nativeType, ok := fieldSpec(parameters)
	if !ok {
		return nil, evalerr.New(evalerr.KindMalformedAssertion, "missing required inputs: column path and column type")
	}
	if !snowflakeSupportedColumnTypes[strings.ToUpper(nativeType)] {
		return nil, evalerr.New(evalerr.KindUnsupportedColumnType, fmt.Sprintf("unsupported date column type %s", nativeType))
	}

	startExpr := snowflakeTimestampExpr(window.StartMs, nativeType)
	endExpr := snowflakeTimestampExpr(window.EndMs, nativeType)

	query := fmt.Sprintf(`
		SELECT %s as last_altered_date
		FROM %s.%s.%s
		WHERE %s >= (%s)
		AND %s <= (%s)
		ORDER BY %s DESC
	`, path, catalog, schema, table, path, startExpr, path, endExpr, path)

	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("field watermark query: %w", err)
	}
	defer rows.Close()

	var events []domain.EntityEvent
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		events = append(events, domain.EntityEvent{EventType: domain.EntityEventFieldUpdate, EventTime: ts.UTC().UnixMilli()})
	}
	return events, rows.Err()
}

func snowflakeTimestampExpr(millis int64, columnType string) string {
	switch strings.ToUpper(columnType) {
	case "DATE":
		return fmt.Sprintf("DATE(TO_TIMESTAMP(%d, 3))", millis)
	case "TIMESTAMP":
		return fmt.Sprintf("TO_TIMESTAMP(%d, 3)", millis)
	case "TIMESTAMP_TZ":
		return fmt.Sprintf("TO_TIMESTAMP(%d, 3)::TIMESTAMP_TZ", millis)
	case "TIMESTAMP_LTZ":
		return fmt.Sprintf("TO_TIMESTAMP(%d, 3)::TIMESTAMP_LTZ", millis)
	case "TIMESTAMP_NTZ", "DATETIME":
		return fmt.Sprintf("TO_TIMESTAMP(%d, 3)::TIMESTAMP_NTZ", millis)
	default:
		return fmt.Sprintf("TO_TIMESTAMP(%d, 3)", millis)
	}
}
