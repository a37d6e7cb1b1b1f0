// Package cache persists model catalog snapshots so a restarted gateway can
// serve listings before the first upstream refresh completes. Supports a
// local file backend and Redis for multi-instance deployments.
package cache

import (
	"context"
	"time"

	"modelgate/internal/core"
)

// CatalogSnapshot is the persisted form of the registry's per-provider
// catalogs.
type CatalogSnapshot struct {
	Version   int                          `json:"version"`
	UpdatedAt time.Time                    `json:"updated_at"`
	Providers map[string]*ProviderSnapshot `json:"providers"`
}

// ProviderSnapshot is one provider's catalog at a point in time.
type ProviderSnapshot struct {
	Models    []core.Model `json:"models"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// SnapshotVersion is bumped when the snapshot layout changes; older
// snapshots are discarded on load.
const SnapshotVersion = 1

// Cache defines the catalog snapshot storage contract.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves the stored snapshot. Returns nil, nil if no snapshot
	// exists yet.
	Get(ctx context.Context) (*CatalogSnapshot, error)

	// Set stores the snapshot.
	Set(ctx context.Context, snap *CatalogSnapshot) error

	// Close releases any resources held by the cache.
	Close() error
}
