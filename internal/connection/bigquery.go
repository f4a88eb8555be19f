package connection

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/logging/logadmin"
)

// BigQueryConfig is built from an ingestion recipe's `source.config` block
// for a `bigquery` recipe type.
type BigQueryConfig struct {
	ProjectID      string
	CredentialJSON []byte // service account key, resolved from a recipe secret
}

// BigQueryConnection wraps a BigQueryConfig and lazily opens a
// *bigquery.Client on first use. It also lazily opens a GCP Logging admin
// client on first use by AUDIT_LOG_OPERATION queries, memoized the same
// OnceCell-with-mutex way as the driver client in base.
type BigQueryConnection struct {
	base
	Config BigQueryConfig

	logOnce   sync.Once
	logClient *logadmin.Client
	logErr    error
}

// NewBigQueryConnection builds a Connection for the given urn/config.
func NewBigQueryConnection(urn, platformUrn string, cfg BigQueryConfig) *BigQueryConnection {
	c := &BigQueryConnection{Config: cfg}
	c.base = newBase(urn, platformUrn, func(ctx context.Context) (any, error) {
		opts := bigqueryClientOptions(cfg)
		client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("open bigquery connection: %w", err)
		}
		return client, nil
	})
	return c
}

// GetLoggingClient lazily constructs a GCP Logging admin client scoped to
// this connection's project, used to query Cloud Audit Logs for
// AUDIT_LOG_OPERATION freshness signals.
func (c *BigQueryConnection) GetLoggingClient(ctx context.Context) (*logadmin.Client, error) {
	c.logOnce.Do(func() {
		opts := bigqueryClientOptions(c.Config)
		client, err := logadmin.NewClient(ctx, "projects/"+c.Config.ProjectID, opts...)
		if err != nil {
			c.logErr = fmt.Errorf("open bigquery logging connection: %w", err)
			return
		}
		c.logClient = client
	})
	return c.logClient, c.logErr
}
