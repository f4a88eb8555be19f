package obslog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHandler_IncludesAssertionURN(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := NewContextHandler(base)
	logger := slog.New(handler)

	ctx := WithAssertionURN(context.Background(), "urn:li:assertion:test-123")
	logger.InfoContext(ctx, "evaluating")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "urn:li:assertion:test-123", entry["assertion_urn"])
	assert.Equal(t, "evaluating", entry["msg"])
}

func TestContextHandler_NoScope_OmitsFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := NewContextHandler(base)
	logger := slog.New(handler)

	logger.InfoContext(context.Background(), "no scope")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Nil(t, entry["assertion_urn"])
	assert.Nil(t, entry["monitor_urn"])
	assert.Nil(t, entry["run_id"])
}

func TestContextHandler_StacksAllScopes(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := NewContextHandler(base)
	logger := slog.New(handler)

	ctx := WithMonitorURN(context.Background(), "urn:li:monitor:m1")
	ctx = WithAssertionURN(ctx, "urn:li:assertion:a1")
	ctx = WithRunID(ctx, "native-urn:li:assertion:a1-1690000000000")
	logger.InfoContext(ctx, "fired")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "urn:li:monitor:m1", entry["monitor_urn"])
	assert.Equal(t, "urn:li:assertion:a1", entry["assertion_urn"])
	assert.Equal(t, "native-urn:li:assertion:a1-1690000000000", entry["run_id"])
}
