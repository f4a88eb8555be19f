// Package connection resolves a catalog urn to an authenticated warehouse
// connection: listing the catalog's ingestion sources, matching one to
// the requested platform, resolving its recipe's secret references, and
// lazily constructing a driver client on first use.
package connection

import (
	"context"
	"sync"
)

// Connection is an opaque handle carrying a platform-specific config and a
// lazily-created driver client. GetClient memoizes the client using an
// OnceCell-with-mutex pattern: the driver is constructed at most once,
// and concurrent callers block on the same construction rather than racing.
type Connection interface {
	Urn() string
	PlatformUrn() string
	GetClient(ctx context.Context) (any, error)
}

// base implements the memoized lazy-client machinery shared by every
// platform-specific Connection. Platform types embed it and supply a
// build function.
type base struct {
	urn         string
	platformUrn string

	once   sync.Once
	build  func(ctx context.Context) (any, error)
	client any
	err    error
}

func newBase(urn, platformUrn string, build func(ctx context.Context) (any, error)) base {
	return base{urn: urn, platformUrn: platformUrn, build: build}
}

func (b *base) Urn() string         { return b.urn }
func (b *base) PlatformUrn() string { return b.platformUrn }

// GetClient lazily constructs the driver client the first time it is
// called and memoizes it (and any construction error) for the lifetime of
// the Connection.
func (b *base) GetClient(ctx context.Context) (any, error) {
	b.once.Do(func() {
		b.client, b.err = b.build(ctx)
	})
	return b.client, b.err
}
