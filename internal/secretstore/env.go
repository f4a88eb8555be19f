package secretstore

import (
	"context"
	"os"
)

// EnvStore resolves secrets from the process environment. Each lookup
// checks the name as-is first, then a "MONITORS_SECRET_" prefixed form,
// so operators can namespace secrets without renaming the recipe
// reference.
type EnvStore struct{}

// NewEnvStore creates an EnvStore.
func NewEnvStore() *EnvStore { return &EnvStore{} }

// Get implements Store.
func (s *EnvStore) Get(_ context.Context, name string) (string, bool, error) {
	if v, ok := os.LookupEnv(name); ok {
		return v, true, nil
	}
	if v, ok := os.LookupEnv("MONITORS_SECRET_" + name); ok {
		return v, true, nil
	}
	return "", false, nil
}
