// Package secretstore resolves ${SECRET_NAME} references embedded in an
// ingestion recipe before the Connection Provider hands the recipe's
// source config off to a platform-specific extractor. Multiple stores can
// be configured; the first one to resolve a name wins.
package secretstore

import (
	"context"
	"fmt"
	"regexp"
)

// Store resolves a single named secret. Get returns ("", false) when the
// store has no value for name — this is not an error, since a process may
// have several stores configured and only one needs to answer.
type Store interface {
	Get(ctx context.Context, name string) (string, bool, error)
}

// secretRefPattern matches DataHub's recipe secret reference syntax,
// e.g. "${SNOWFLAKE_PASSWORD}".
var secretRefPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_\-.]+)\}`)

// Chain resolves secret references against an ordered list of stores,
// returning the first match.
type Chain struct {
	stores []Store
}

// NewChain builds a Chain over the given stores, tried in order.
func NewChain(stores ...Store) *Chain {
	return &Chain{stores: stores}
}

// Resolve replaces every ${NAME} reference in raw with the resolved secret
// value. It returns an error naming the first reference no configured
// store could resolve.
func (c *Chain) Resolve(ctx context.Context, raw string) (string, error) {
	var firstErr error
	result := secretRefPattern.ReplaceAllStringFunc(raw, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := secretRefPattern.FindStringSubmatch(match)[1]
		value, err := c.resolveOne(ctx, name)
		if err != nil {
			firstErr = err
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// ResolveMap resolves secret references in every string value of a
// shallow string map (the common shape of a recipe's source.config block).
func (c *Chain) ResolveMap(ctx context.Context, raw map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(raw))
	for k, v := range raw {
		rv, err := c.Resolve(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("resolve secret for key %q: %w", k, err)
		}
		resolved[k] = rv
	}
	return resolved, nil
}

func (c *Chain) resolveOne(ctx context.Context, name string) (string, error) {
	for _, s := range c.stores {
		v, ok, err := s.Get(ctx, name)
		if err != nil {
			return "", fmt.Errorf("secret store lookup %q: %w", name, err)
		}
		if ok {
			return v, nil
		}
	}
	return "", fmt.Errorf("no configured secret store resolved %q", name)
}
