package connection

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RedshiftConfig is built from an ingestion recipe's `source.config` block
// for a `redshift` recipe type. Redshift speaks the Postgres wire
// protocol, so the pgx driver already carried by this module for other
// purposes is reused here rather than adding a dedicated Redshift client.
type RedshiftConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// DSN builds a postgres:// connection string for pgxpool.
func (c RedshiftConfig) DSN() string {
	port := c.Port
	if port == 0 {
		port = 5439
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.Username, c.Password, c.Host, port, c.Database)
}

// RedshiftConnection wraps a RedshiftConfig and lazily opens a
// *pgxpool.Pool on first use.
type RedshiftConnection struct {
	base
	Config RedshiftConfig
}

// NewRedshiftConnection builds a Connection for the given urn/config.
func NewRedshiftConnection(urn, platformUrn string, cfg RedshiftConfig) *RedshiftConnection {
	c := &RedshiftConnection{Config: cfg}
	c.base = newBase(urn, platformUrn, func(ctx context.Context) (any, error) {
		pool, err := pgxpool.New(ctx, cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("open redshift connection: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping redshift: %w", err)
		}
		return pool, nil
	})
	return c
}
