package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"github.com/acryl-data/monitors/internal/connection"
	"github.com/acryl-data/monitors/internal/domain"
	"github.com/acryl-data/monitors/internal/evalerr"
)

var redshiftSupportedColumnTypes = map[string]bool{
	"DATE": true, "TIMESTAMP": true, "TIMESTAMP WITHOUT TIME ZONE": true,
	"TIMESTAMPTZ": true, "TIMESTAMP WITH TIME ZONE": true,
}

// RedshiftSource reads freshness signals from Redshift. Redshift's audit
// log only reliably exposes INSERT activity via STL_INSERT; any other
// requested operation type is downgraded to INSERT with a warning rather
// than silently changing semantics, and table-metadata freshness
// (INFORMATION_SCHEMA_UPDATE) is unsupported — Redshift exposes no
// equivalent to Snowflake's last_altered or BigQuery's __TABLES__.
type RedshiftSource struct {
	conn    *connection.RedshiftConnection
	breaker *gobreaker.CircuitBreaker
}

// NewRedshiftSource builds a RedshiftSource over an already-constructed connection.
func NewRedshiftSource(conn *connection.RedshiftConnection) *RedshiftSource {
	return &RedshiftSource{conn: conn, breaker: newBreaker("redshift:" + conn.Urn())}
}

func (s *RedshiftSource) GetEntityEvents(ctx context.Context, entityURN string, eventType domain.EntityEventType, window domain.Window, parameters map[string]any) ([]domain.EntityEvent, error) {
	return withRetry(ctx, s.breaker, "redshift", func() ([]domain.EntityEvent, error) {
		switch eventType {
		case domain.EntityEventAuditLogOperation:
			return s.insertEvents(ctx, entityURN, window, parameters)
		case domain.EntityEventInformationSchemaUpdate:
			slog.WarnContext(ctx, "redshift: table last-updated time is not supported, returning no results")
			return nil, nil
		case domain.EntityEventFieldUpdate:
			return s.fieldUpdateEvents(ctx, entityURN, window, parameters)
		default:
			return nil, unsupportedEventType("redshift", eventType)
		}
	})
}

func (s *RedshiftSource) pool(ctx context.Context) (*pgxpool.Pool, error) {
	c, err := s.conn.GetClient(ctx)
	if err != nil {
		return nil, evalerr.Wrap(evalerr.KindConnectionUnavailable, "redshift connection unavailable", err)
	}
	pool, ok := c.(*pgxpool.Pool)
	if !ok {
		return nil, evalerr.New(evalerr.KindConnectionUnavailable, "redshift connection client has unexpected type")
	}
	return pool, nil
}

func (s *RedshiftSource) insertEvents(ctx context.Context, entityURN string, window domain.Window, parameters map[string]any) ([]domain.EntityEvent, error) {
	requested := operationTypesFilter(parameters, []string{"INSERT"})
	hasInsert := false
	for _, t := range requested {
		if strings.EqualFold(t, "INSERT") {
			hasInsert = true
			break
		}
	}
	if !hasInsert {
		slog.WarnContext(ctx, "redshift: only INSERT operation type is supported, adjusting request")
	}

	database, schema, table, err := datasetNameParts(entityURN)
	if err != nil {
		return nil, err
	}

	userFilter := ""
	if u, ok := userNameFilter(parameters); ok {
		userFilter = fmt.Sprintf("AND sui.usename = '%s'", u)
	}

	query := fmt.Sprintf(`
		SELECT si.endtime AS endtime
		FROM stl_insert si
			JOIN svv_table_info sti ON si.tbl = sti.table_id
			JOIN stl_query sq ON si.query = sq.query
			JOIN svl_user_info sui ON sq.userid = sui.usesysid
		WHERE si.endtime >= (TIMESTAMP 'epoch' + %s * INTERVAL '1 second')
			AND si.endtime < (TIMESTAMP 'epoch' + %s * INTERVAL '1 second')
			AND sq.starttime >= (TIMESTAMP 'epoch' + %s * INTERVAL '1 second')
			AND sq.endtime < (TIMESTAMP 'epoch' + %s * INTERVAL '1 second')
			AND sq.aborted = 0
			AND si.rows > 0
			AND sti.database = '%s'
			AND sti.schema = '%s'
			AND sti."table" = '%s'
			%s
		ORDER BY endtime DESC
	`, secondsSinceEpoch(window.StartMs), secondsSinceEpoch(window.EndMs), secondsSinceEpoch(window.StartMs), secondsSinceEpoch(window.EndMs), database, schema, table, userFilter)

	pool, err := s.pool(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("stl_insert query: %w", err)
	}
	defer rows.Close()

	var events []domain.EntityEvent
	for rows.Next() {
		var endTime time.Time
		if err := rows.Scan(&endTime); err != nil {
			return nil, err
		}
		events = append(events, domain.EntityEvent{EventType: domain.EntityEventAuditLogOperation, EventTime: endTime.UTC().UnixMilli()})
	}
	return events, rows.Err()
}

func (s *RedshiftSource) fieldUpdateEvents(ctx context.Context, entityURN string, window domain.Window, parameters map[string]any) ([]domain.EntityEvent, error) {
	database, schema, table, err := datasetNameParts(entityURN)
	if err != nil {
		return nil, err
	}

	path, nativeType, ok := fieldSpec(parameters)
	if !ok {
		return nil, evalerr.New(evalerr.KindMalformedAssertion, "missing required inputs: column path and column type")
	}
	if !redshiftSupportedColumnTypes[strings.ToUpper(nativeType)] {
		return nil, evalerr.New(evalerr.KindUnsupportedColumnType, fmt.Sprintf("unsupported date column type %s", nativeType))
	}

	startExpr := redshiftTimestampExpr(window.StartMs, nativeType)
	endExpr := redshiftTimestampExpr(window.EndMs, nativeType)

	query := fmt.Sprintf(`
		SELECT %s as last_altered_date
		FROM %s.%s.%s
		WHERE %s >= (%s)
		AND %s <= (%s)
		ORDER BY %s DESC
	`, path, database, schema, table, path, startExpr, path, endExpr, path)

	pool, err := s.pool(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, query)
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

func secondsSinceEpoch(millis int64) string {
	return fmt.Sprintf("%.3f", float64(millis)/1000.0)
}

func redshiftTimestampExpr(millis int64, columnType string) string {
	seconds := secondsSinceEpoch(millis)
	switch strings.ToUpper(columnType) {
	case "DATE":
		return fmt.Sprintf("(TIMESTAMP 'epoch' + %s * INTERVAL '1 second')::DATE", seconds)
	case "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE":
		return fmt.Sprintf("TIMESTAMPTZ 'epoch' + %s * INTERVAL '1 second'", seconds)
	default:
		return fmt.Sprintf("TIMESTAMP 'epoch' + %s * INTERVAL '1 second'", seconds)
	}
}
