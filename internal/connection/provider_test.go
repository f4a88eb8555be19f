package connection

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/acryl-data/monitors/internal/config"
	"github.com/acryl-data/monitors/internal/secretstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGQL struct {
	calls int
	resp  listIngestionSourcesResponse
}

func (f *fakeGQL) Execute(_ context.Context, _ string, _ map[string]any, out any) error {
	f.calls++
	b, _ := json.Marshal(f.resp)
	return json.Unmarshal(b, out)
}

func recipeJSON(t *testing.T, sourceType string, config map[string]string) string {
	t.Helper()
	r := recipe{}
	r.Source.Type = sourceType
	r.Source.Config = config
	b, err := json.Marshal(r)
	require.NoError(t, err)
	return string(b)
}

func newSourcesResponse(sources ...rawIngestionSource) listIngestionSourcesResponse {
	var resp listIngestionSourcesResponse
	resp.ListIngestionSources.IngestionSources = sources
	return resp
}

func TestGetConnection_MatchesPlatformAndBuildsConnection(t *testing.T) {
	recipe := recipeJSON(t, "snowflake", map[string]string{
		"account":   "acme",
		"user":      "svc",
		"password":  "hunter2",
		"warehouse": "WH",
	})
	gql := &fakeGQL{resp: newSourcesResponse(rawIngestionSource{
		Urn:  "urn:li:dataPlatformInstance:snowflake-prod",
		Type: "snowflake",
		Config: struct {
			Recipe     string `json:"recipe"`
			ExecutorID string `json:"executorId"`
		}{Recipe: recipe, ExecutorID: "remote-executor"},
	})}

	p := New(gql, secretstore.NewChain(secretstore.NewEnvStore()), 0, time.Hour)
	conn, err := p.GetConnection(context.Background(), "urn:li:dataPlatform:snowflake")
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, "urn:li:dataPlatform:snowflake", conn.Urn())

	sf, ok := conn.(*SnowflakeConnection)
	require.True(t, ok)
	assert.Equal(t, "acme", sf.Config.Account)
	assert.Equal(t, "svc", sf.Config.Username)
}

func TestGetConnection_SkipsCLIExecutorSources(t *testing.T) {
	recipe := recipeJSON(t, "snowflake", map[string]string{"account": "acme"})
	gql := &fakeGQL{resp: newSourcesResponse(rawIngestionSource{
		Urn:  "urn:li:dataPlatformInstance:snowflake-cli",
		Type: "snowflake",
		Config: struct {
			Recipe     string `json:"recipe"`
			ExecutorID string `json:"executorId"`
		}{Recipe: recipe, ExecutorID: config.CLIExecutorID},
	})}

	p := New(gql, secretstore.NewChain(), 0, time.Hour)
	conn, err := p.GetConnection(context.Background(), "urn:li:dataPlatform:snowflake")
	require.NoError(t, err)
	assert.Nil(t, conn)
}

func TestGetConnection_UnsupportedPlatform_ReturnsNilNoMatch(t *testing.T) {
	gql := &fakeGQL{resp: newSourcesResponse()}
	p := New(gql, secretstore.NewChain(), 0, time.Hour)
	conn, err := p.GetConnection(context.Background(), "urn:li:dataPlatform:oracle")
	require.NoError(t, err)
	assert.Nil(t, conn)
}

func TestGetConnection_NonPlatformURN_ReturnsUnsupportedPlatformError(t *testing.T) {
	gql := &fakeGQL{}
	p := New(gql, secretstore.NewChain(), 0, time.Hour)
	_, err := p.GetConnection(context.Background(), "urn:li:dataset:foo")
	require.Error(t, err)
}

func TestGetConnection_MemoizesPerURN(t *testing.T) {
	recipe := recipeJSON(t, "redshift", map[string]string{
		"host_port": "db.example.com:5439",
		"database":  "analytics",
		"username":  "svc",
		"password":  "secret",
	})
	gql := &fakeGQL{resp: newSourcesResponse(rawIngestionSource{
		Urn:  "urn:li:dataPlatformInstance:redshift-prod",
		Type: "redshift",
		Config: struct {
			Recipe     string `json:"recipe"`
			ExecutorID string `json:"executorId"`
		}{Recipe: recipe, ExecutorID: "remote-executor"},
	})}

	p := New(gql, secretstore.NewChain(), 0, time.Hour)
	conn1, err := p.GetConnection(context.Background(), "urn:li:dataPlatform:redshift")
	require.NoError(t, err)
	conn2, err := p.GetConnection(context.Background(), "urn:li:dataPlatform:redshift")
	require.NoError(t, err)

	assert.Same(t, conn1, conn2)
	assert.Equal(t, 1, gql.calls)
}

func TestGetConnection_ConcurrentLookups_BuildAtMostOnce(t *testing.T) {
	recipe := recipeJSON(t, "snowflake", map[string]string{"account": "acme"})
	gql := &fakeGQL{resp: newSourcesResponse(rawIngestionSource{
		Urn:  "urn:li:dataPlatformInstance:snowflake-prod",
		Type: "snowflake",
		Config: struct {
			Recipe     string `json:"recipe"`
			ExecutorID string `json:"executorId"`
		}{Recipe: recipe, ExecutorID: "remote-executor"},
	})}

	p := New(gql, secretstore.NewChain(), 0, time.Hour)

	const goroutines = 20
	var wg sync.WaitGroup
	conns := make([]Connection, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := p.GetConnection(context.Background(), "urn:li:dataPlatform:snowflake")
			assert.NoError(t, err)
			conns[i] = conn
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, conns[0], conns[i], "concurrent lookups for the same urn must share one built connection")
	}
}

func TestGetConnection_NotFound_IsNotPermanentlyMemoized(t *testing.T) {
	gql := &fakeGQL{resp: newSourcesResponse()}
	p := New(gql, secretstore.NewChain(), 0, time.Millisecond)

	conn, err := p.GetConnection(context.Background(), "urn:li:dataPlatform:redshift")
	require.NoError(t, err)
	assert.Nil(t, conn, "no matching source yet")

	recipe := recipeJSON(t, "redshift", map[string]string{
		"host_port": "db.example.com:5439",
		"database":  "analytics",
		"username":  "svc",
		"password":  "secret",
	})
	time.Sleep(2 * time.Millisecond) // let the listed-sources cache expire
	gql.resp = newSourcesResponse(rawIngestionSource{
		Urn:  "urn:li:dataPlatformInstance:redshift-prod",
		Type: "redshift",
		Config: struct {
			Recipe     string `json:"recipe"`
			ExecutorID string `json:"executorId"`
		}{Recipe: recipe, ExecutorID: "remote-executor"},
	})

	conn, err = p.GetConnection(context.Background(), "urn:li:dataPlatform:redshift")
	require.NoError(t, err)
	require.NotNil(t, conn, "a not-found result must not be cached permanently")
}

func TestGetConnection_MalformedRecipe_ReturnsError(t *testing.T) {
	gql := &fakeGQL{resp: newSourcesResponse(rawIngestionSource{
		Urn:  "urn:li:dataPlatformInstance:snowflake-prod",
		Type: "snowflake",
		Config: struct {
			Recipe     string `json:"recipe"`
			ExecutorID string `json:"executorId"`
		}{Recipe: "not json", ExecutorID: "remote-executor"},
	})}

	p := New(gql, secretstore.NewChain(), 0, time.Hour)
	_, err := p.GetConnection(context.Background(), "urn:li:dataPlatform:snowflake")
	require.Error(t, err)
}
