// Package source implements per-warehouse freshness-signal adapters: given
// an entity urn, an event type, and a validation window, each adapter
// issues the warehouse-native query that answers "did anything happen to
// this table in this window".
package source

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/acryl-data/monitors/internal/domain"
	"github.com/acryl-data/monitors/internal/evalerr"
)

// Source produces EntityEvents for one entity over one validation window.
type Source interface {
	GetEntityEvents(ctx context.Context, entityURN string, eventType domain.EntityEventType, window domain.Window, parameters map[string]any) ([]domain.EntityEvent, error)
}

var datasetURNPattern = regexp.MustCompile(`^urn:li:dataset:\(urn:li:dataPlatform:[^,]+,([^,]+),[^)]+\)$`)

// datasetNameParts extracts the catalog/database, schema, and table name
// from a dataset urn's name component, lowercased. If the name has more
// than three dot-separated segments (a platform instance prefix) only the
// first three are kept, matching the upstream adapters' behavior.
func datasetNameParts(entityURN string) (catalog, schema, table string, err error) {
	m := datasetURNPattern.FindStringSubmatch(entityURN)
	if m == nil {
		return "", "", "", fmt.Errorf("not a dataset urn: %s", entityURN)
	}
	name := strings.ToLower(m[1])
	parts := strings.Split(name, ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("expected 3 dotted name segments, got %d: %s", len(parts), name)
	}
	return parts[0], parts[1], parts[2], nil
}

// fieldSpec extracts the path/native_type pair a FIELD_UPDATE request
// carries in its parameters map, matching the upstream "path"/"native_type"
// keys.
func fieldSpec(parameters map[string]any) (path, nativeType string, ok bool) {
	p, okP := parameters["path"].(string)
	n, okN := parameters["native_type"].(string)
	if !okP || !okN || p == "" || n == "" {
		return "", "", false
	}
	return p, n, true
}

// operationTypesFilter extracts the caller-requested operation type list
// from parameters, falling back to def when absent.
func operationTypesFilter(parameters map[string]any, def []string) []string {
	raw, ok := parameters["operation_types"].([]any)
	if !ok || len(raw) == 0 {
		return def
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// userNameFilter extracts a lowercased user_name filter, if present.
func userNameFilter(parameters map[string]any) (string, bool) {
	v, ok := parameters["user_name"].(string)
	if !ok || v == "" {
		return "", false
	}
	return strings.ToLower(v), true
}

func unsupportedEventType(platform string, eventType domain.EntityEventType) error {
	return evalerr.New(evalerr.KindUnsupportedSourceType, fmt.Sprintf("%s connector does not support retrieving %s events", platform, eventType))
}
