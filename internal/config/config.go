// Package config handles loading and validating monitorsd's configuration:
// required environment variables (fail-fast at startup, mirroring how the
// env is validated before anything else is wired) and an optional
// monitors.yaml listing the secret-store backends and per-platform
// adapter-default overrides that don't belong in the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultGMSProtocol is used when DATAHUB_GMS_PROTOCOL is unset.
	DefaultGMSProtocol = "http"
	// DefaultGMSPort is used when DATAHUB_GMS_PORT is unset.
	DefaultGMSPort = "8080"

	// DefaultListMonitorsBatchSize bounds one searchAcrossEntities page.
	DefaultListMonitorsBatchSize = 10000
	// DefaultIngestionSourcesBatchSize bounds one listIngestionSources page.
	DefaultIngestionSourcesBatchSize = 10000
	// DefaultRefreshIntervalMinutes is how often the manager re-lists monitors.
	DefaultRefreshIntervalMinutes = 10
	// DefaultWorkerPoolCapacity bounds concurrent in-flight evaluations.
	DefaultWorkerPoolCapacity = 10

	// CLIExecutorID is excluded from Connection Provider candidate ingestion
	// sources — those recipes are CLI-only and carry no reusable credentials.
	CLIExecutorID = "__datahub_execution_via_cli"
)

// Env holds the validated environment-derived configuration.
type Env struct {
	GMSProtocol          string
	GMSHost              string
	GMSPort              string
	SystemClientID       string
	SystemClientSecret   string
	Debug                bool
	RefreshInterval      time.Duration
	WorkerPoolCapacity   int
	ListMonitorsBatch    int
	IngestionSourcesBatch int
}

// LoadEnv reads and validates the environment variables named in spec §6,
// failing fast with a descriptive error when a required value is missing
// or malformed. Optional tuning variables that are unset or malformed fall
// back silently to their defaults; no warning is logged.
func LoadEnv() (*Env, error) {
	host := os.Getenv("DATAHUB_GMS_HOST")
	if host == "" {
		return nil, fmt.Errorf("DATAHUB_GMS_HOST is required")
	}

	e := &Env{
		GMSProtocol:           envOrDefault("DATAHUB_GMS_PROTOCOL", DefaultGMSProtocol),
		GMSHost:               host,
		GMSPort:               envOrDefault("DATAHUB_GMS_PORT", DefaultGMSPort),
		SystemClientID:        os.Getenv("DATAHUB_SYSTEM_CLIENT_ID"),
		SystemClientSecret:    os.Getenv("DATAHUB_SYSTEM_CLIENT_SECRET"),
		Debug:                 envBool("DATAHUB_DEBUG", false),
		RefreshInterval:       envMinutes("LIST_MONITORS_REFRESH_INTERVAL_MINUTES", DefaultRefreshIntervalMinutes),
		WorkerPoolCapacity:    envInt("MONITORS_WORKER_POOL_CAPACITY", DefaultWorkerPoolCapacity),
		ListMonitorsBatch:     envInt("LIST_MONITORS_BATCH_SIZE", DefaultListMonitorsBatchSize),
		IngestionSourcesBatch: envInt("INGESTION_SOURCES_BATCH_SIZE", DefaultIngestionSourcesBatchSize),
	}

	if e.GMSProtocol != "http" && e.GMSProtocol != "https" {
		return nil, fmt.Errorf("DATAHUB_GMS_PROTOCOL must be http or https, got %q", e.GMSProtocol)
	}
	if (e.SystemClientID == "") != (e.SystemClientSecret == "") {
		return nil, fmt.Errorf("DATAHUB_SYSTEM_CLIENT_ID and DATAHUB_SYSTEM_CLIENT_SECRET must be set together")
	}

	return e, nil
}

// GMSBaseURL builds the catalog GraphQL endpoint's base URL.
func (e *Env) GMSBaseURL() string {
	return fmt.Sprintf("%s://%s:%s", e.GMSProtocol, e.GMSHost, e.GMSPort)
}

// HasSystemAuth reports whether system client credentials were configured.
// Absent credentials are allowed (useful for development against an
// unauthenticated catalog) but the caller should warn when this is false.
func (e *Env) HasSystemAuth() bool {
	return e.SystemClientID != "" && e.SystemClientSecret != ""
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envMinutes(key string, defMinutes int) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(defMinutes) * time.Minute
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return time.Duration(defMinutes) * time.Minute
	}
	return time.Duration(n) * time.Minute
}

// PlatformConfig holds adapter-default overrides for one warehouse platform,
// loaded from monitors.yaml. It is parsed only: no source adapter reads it,
// so the adapters keep their built-in operation-type allowlists.
type PlatformConfig struct {
	OperationTypesFilter []string `yaml:"operation_types_filter,omitempty"`
}

// SecretStoreConfig describes one configured secret store backend.
type SecretStoreConfig struct {
	Type   string            `yaml:"type"` // "env" or "s3"
	Config map[string]string `yaml:"config,omitempty"`
}

// Config is the top-level monitors.yaml configuration. It is optional —
// LoadEnv already covers everything required to run; this file only
// carries overrides.
type Config struct {
	SecretStores []SecretStoreConfig       `yaml:"secret_stores,omitempty"`
	Platforms    map[string]PlatformConfig `yaml:"platforms,omitempty"`
}

// DefaultConfig returns the zero-config default: a single env-backed secret
// store, no per-platform overrides.
func DefaultConfig() *Config {
	return &Config{
		SecretStores: []SecretStoreConfig{{Type: "env"}},
	}
}

// Load parses a monitors.yaml file. If path is empty, returns defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if len(cfg.SecretStores) == 0 {
		cfg.SecretStores = DefaultConfig().SecretStores
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ResolvePath finds the monitors.yaml path.
// Priority: MONITORS_CONFIG env var > ./monitors.yaml > "" (no config).
func ResolvePath() string {
	if p := os.Getenv("MONITORS_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("monitors.yaml"); err == nil {
		return "monitors.yaml"
	}
	return ""
}

// validate checks that every configured secret store names a known type.
func (c *Config) validate() error {
	for i, s := range c.SecretStores {
		switch s.Type {
		case "env", "s3":
		default:
			return fmt.Errorf("secret_stores[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}
