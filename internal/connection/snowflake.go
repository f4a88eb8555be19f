package connection

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/snowflakedb/gosnowflake"
)

// SnowflakeConfig is built from an ingestion recipe's `source.config` block
// for a `snowflake` recipe type.
type SnowflakeConfig struct {
	Account   string
	Username  string
	Password  string
	Warehouse string
	Role      string
}

// DSN builds the gosnowflake data source name for this config.
func (c SnowflakeConfig) DSN() string {
	dsn := fmt.Sprintf("%s:%s@%s", c.Username, c.Password, c.Account)
	q := ""
	if c.Warehouse != "" {
		q += "warehouse=" + c.Warehouse
	}
	if c.Role != "" {
		if q != "" {
			q += "&"
		}
		q += "role=" + c.Role
	}
	if q != "" {
		dsn += "?" + q
	}
	return dsn
}

// SnowflakeConnection wraps a SnowflakeConfig and lazily opens a
// database/sql handle using the gosnowflake driver on first use.
type SnowflakeConnection struct {
	base
	Config SnowflakeConfig
}

// NewSnowflakeConnection builds a Connection for the given urn/config. The
// underlying *sql.DB is not opened until GetClient is first called.
func NewSnowflakeConnection(urn, platformUrn string, cfg SnowflakeConfig) *SnowflakeConnection {
	c := &SnowflakeConnection{Config: cfg}
	c.base = newBase(urn, platformUrn, func(_ context.Context) (any, error) {
		db, err := sql.Open("snowflake", cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("open snowflake connection: %w", err)
		}
		// Force UTC session timezone before first use, matching the
		// upstream source adapter's init behavior — every timestamp the
		// adapters read back is then unambiguously UTC.
		if _, err := db.Exec("ALTER SESSION SET TIMEZONE = 'UTC'"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set snowflake session timezone: %w", err)
		}
		return db, nil
	})
	return c
}
