package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/acryl-data/monitors/internal/config"
	"github.com/acryl-data/monitors/internal/evalerr"
	"github.com/acryl-data/monitors/internal/secretstore"
)

// dataPlatformURNPrefix identifies a urn classified as a data platform
// entity, the only kind of urn this provider resolves.
const dataPlatformURNPrefix = "urn:li:dataPlatform:"

// GraphQLExecutor is the subset of catalog.Client this package depends on.
type GraphQLExecutor interface {
	Execute(ctx context.Context, query string, variables map[string]any, out any) error
}

// Provider resolves a connection urn to a Connection.
type Provider interface {
	GetConnection(ctx context.Context, urn string) (Connection, error)
}

const listIngestionSourcesQuery = `
query listIngestionSources($start: Int!, $count: Int!) {
  listIngestionSources(input: { start: $start, count: $count }) {
    ingestionSources {
      urn
      type
      config {
        recipe
        executorId
      }
    }
  }
}`

type rawIngestionSource struct {
	Urn    string `json:"urn"`
	Type   string `json:"type"`
	Config struct {
		Recipe     string `json:"recipe"`
		ExecutorID string `json:"executorId"`
	} `json:"config"`
}

type listIngestionSourcesResponse struct {
	ListIngestionSources struct {
		IngestionSources []rawIngestionSource `json:"ingestionSources"`
	} `json:"listIngestionSources"`
}

// recipe mirrors the shape of a DataHub ingestion recipe's relevant
// fields: we only care about source.type and source.config.
type recipe struct {
	Source struct {
		Type   string            `json:"type"`
		Config map[string]string `json:"config"`
	} `json:"source"`
}

// connMemoSlot is the single-initializer slot for one urn's connection
// build (I4: a connection is created at most once per urn per process
// lifetime). A slot that resolved to "not found" or an error is dropped
// rather than kept, so a later call — once the catalog actually has a
// matching ingestion source — gets a real attempt instead of a poisoned
// permanent miss.
type connMemoSlot struct {
	once sync.Once
	conn Connection
	err  error
}

// DataHubIngestionSourceConnectionProvider implements Provider by listing
// the catalog's configured ingestion sources and matching one to the
// requested platform.
type DataHubIngestionSourceConnectionProvider struct {
	gql       GraphQLExecutor
	secrets   *secretstore.Chain
	batchSize int

	memoMu sync.Mutex
	memo   map[string]*connMemoSlot

	listTTL    time.Duration
	listMu     sync.Mutex
	listCache  []rawIngestionSource
	listExpiry time.Time
}

// New creates a DataHubIngestionSourceConnectionProvider. Connections are
// memoized per urn (invariant I4); the listed ingestion sources themselves
// are re-fetched after listTTL elapses. Pass 0 for listTTL to use a
// 24-hour default, which in practice behaves as "once per process
// lifetime" for any reasonably short-lived process.
func New(gql GraphQLExecutor, secrets *secretstore.Chain, batchSize int, listTTL time.Duration) *DataHubIngestionSourceConnectionProvider {
	if batchSize <= 0 {
		batchSize = 10000
	}
	if listTTL <= 0 {
		listTTL = 24 * time.Hour
	}
	return &DataHubIngestionSourceConnectionProvider{
		gql:       gql,
		secrets:   secrets,
		batchSize: batchSize,
		memo:      make(map[string]*connMemoSlot),
		listTTL:   listTTL,
	}
}

// GetConnection implements Provider (invariant I4: memoized per urn, single
// initializer so concurrent lookups for the same urn block on one build
// rather than racing to construct duplicate driver clients).
func (p *DataHubIngestionSourceConnectionProvider) GetConnection(ctx context.Context, urn string) (Connection, error) {
	if !strings.HasPrefix(urn, dataPlatformURNPrefix) {
		return nil, evalerr.New(evalerr.KindUnsupportedPlatform, fmt.Sprintf("urn is not a dataPlatform urn: %s", urn))
	}

	p.memoMu.Lock()
	slot, ok := p.memo[urn]
	if !ok {
		slot = &connMemoSlot{}
		p.memo[urn] = slot
	}
	p.memoMu.Unlock()

	slot.once.Do(func() {
		slot.conn, slot.err = p.resolveConnection(ctx, urn)
	})

	if slot.err != nil || slot.conn == nil {
		p.memoMu.Lock()
		delete(p.memo, urn)
		p.memoMu.Unlock()
	}

	return slot.conn, slot.err
}

func (p *DataHubIngestionSourceConnectionProvider) resolveConnection(ctx context.Context, urn string) (Connection, error) {
	platform := strings.TrimPrefix(urn, dataPlatformURNPrefix)

	sources, err := p.listIngestionSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ingestion sources: %w", err)
	}

	for _, src := range sources {
		if src.Type != platform {
			continue
		}
		if src.Config.ExecutorID == config.CLIExecutorID {
			continue
		}
		return p.buildConnection(ctx, urn, platform, src)
	}

	return nil, nil
}

// listIngestionSources fetches the full list in a single call (batch size
// configured at construction) and reuses it for subsequent lookups until
// listTTL elapses, after which it is fetched again.
func (p *DataHubIngestionSourceConnectionProvider) listIngestionSources(ctx context.Context) ([]rawIngestionSource, error) {
	p.listMu.Lock()
	defer p.listMu.Unlock()

	if p.listCache != nil && time.Now().Before(p.listExpiry) {
		return p.listCache, nil
	}

	var resp listIngestionSourcesResponse
	err := p.gql.Execute(ctx, listIngestionSourcesQuery, map[string]any{
		"start": 0,
		"count": p.batchSize,
	}, &resp)
	if err != nil {
		return nil, err
	}

	p.listCache = resp.ListIngestionSources.IngestionSources
	p.listExpiry = time.Now().Add(p.listTTL)
	return p.listCache, nil
}

func (p *DataHubIngestionSourceConnectionProvider) buildConnection(ctx context.Context, urn, platform string, src rawIngestionSource) (Connection, error) {
	var r recipe
	if err := json.Unmarshal([]byte(src.Config.Recipe), &r); err != nil {
		return nil, evalerr.Wrap(evalerr.KindMalformedAssertion, fmt.Sprintf("invalid recipe JSON for %s", src.Urn), err)
	}

	resolved, err := p.secrets.ResolveMap(ctx, r.Source.Config)
	if err != nil {
		return nil, fmt.Errorf("resolve recipe secrets: %w", err)
	}

	switch platform {
	case "snowflake":
		username := resolved["user"]
		if username == "" {
			username = resolved["username"]
		}
		cfg := SnowflakeConfig{
			Account:   resolved["account"],
			Username:  username,
			Password:  resolved["password"],
			Warehouse: resolved["warehouse"],
			Role:      resolved["role"],
		}
		return NewSnowflakeConnection(urn, urn, cfg), nil
	case "bigquery":
		var cred []byte
		if v, ok := resolved["credential"]; ok {
			cred = []byte(v)
		}
		return NewBigQueryConnection(urn, urn, BigQueryConfig{
			ProjectID:      resolved["project_id"],
			CredentialJSON: cred,
		}), nil
	case "redshift":
		cfg := RedshiftConfig{
			Host:     resolved["host_port"],
			Database: resolved["database"],
			Username: resolved["username"],
			Password: resolved["password"],
		}
		return NewRedshiftConnection(urn, urn, cfg), nil
	default:
		return nil, evalerr.New(evalerr.KindUnsupportedPlatform, fmt.Sprintf("platform %q has no connection extractor", platform))
	}
}
