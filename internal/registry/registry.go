// Package registry maintains the model capability registry: which models
// exist, which provider serves each one, and whether a model is usable for a
// given user right now.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"modelgate/internal/cache"
	"modelgate/internal/core"
)

// ErrModelNotFound means no provider catalog lists the requested model.
var ErrModelNotFound = errors.New("model not found")

// DefaultCatalogTTL is how long a fetched catalog is considered fresh.
const DefaultCatalogTTL = time.Hour

// retryCooldown bounds how often a failed discovery is retried, so an
// unreachable provider does not get hit on every request.
const retryCooldown = 30 * time.Second

// CredentialSource answers whether a usable key exists for a provider. The
// credentials resolver satisfies it.
type CredentialSource interface {
	Resolve(ctx context.Context, provider, userID string) (core.Credential, error)
	HasCredential(ctx context.Context, provider, userID string) bool
}

// catalog is one provider's model list with its fetch bookkeeping. A catalog
// that has never been fetched successfully is empty, not absent.
type catalog struct {
	models    []core.Model
	fetchedAt time.Time
	failedAt  time.Time

	// refreshing marks an in-flight background fetch so concurrent reads
	// of a stale catalog trigger one discovery call, not many.
	refreshing bool
}

// Registry tracks per-provider catalogs. Each catalog refreshes
// independently in the background when read past its TTL; reads never wait
// on discovery and a failed refresh keeps the last-known catalog. Static
// models (image generation) never expire.
type Registry struct {
	adapters  map[string]core.Adapter
	creds     CredentialSource
	snapshots cache.Cache
	static    []core.Model
	enrich    func([]core.Model) []core.Model
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	catalogs map[string]*catalog
}

// Option configures a Registry.
type Option func(*Registry)

// WithCatalogTTL overrides the catalog freshness window.
func WithCatalogTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithSnapshotCache persists catalogs across restarts.
func WithSnapshotCache(c cache.Cache) Option {
	return func(r *Registry) { r.snapshots = c }
}

// WithStaticModels registers models that are always listed and never
// refreshed, such as image generation models with no discovery endpoint.
func WithStaticModels(models []core.Model) Option {
	return func(r *Registry) { r.static = models }
}

// WithEnricher post-processes each freshly discovered catalog, typically to
// attach context windows and pricing the discovery endpoint does not return.
func WithEnricher(enrich func([]core.Model) []core.Model) Option {
	return func(r *Registry) { r.enrich = enrich }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// withClock injects a fake clock for TTL tests.
func withClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a registry over the given adapters, keyed by provider name.
func New(adapters map[string]core.Adapter, creds CredentialSource, opts ...Option) *Registry {
	r := &Registry{
		adapters: adapters,
		creds:    creds,
		ttl:      DefaultCatalogTTL,
		logger:   slog.Default(),
		now:      time.Now,
		catalogs: make(map[string]*catalog),
	}
	for name := range adapters {
		r.catalogs[name] = &catalog{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load restores catalogs from the snapshot cache so listings work before the
// first discovery completes. Fetch timestamps are restored too; a snapshot
// older than the TTL is stale on arrival and refreshes on first read.
func (r *Registry) Load(ctx context.Context) error {
	if r.snapshots == nil {
		return nil
	}
	snap, err := r.snapshots.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog snapshot: %w", err)
	}
	if snap == nil {
		return nil
	}

	r.mu.Lock()
	restored := 0
	for name, ps := range snap.Providers {
		if _, known := r.adapters[name]; !known {
			continue
		}
		r.catalogs[name] = &catalog{models: ps.Models, fetchedAt: ps.FetchedAt}
		restored += len(ps.Models)
	}
	r.mu.Unlock()

	r.logger.Info("restored catalog snapshot", "models", restored, "updated_at", snap.UpdatedAt)
	return nil
}

// Models returns every known model across all providers. Reading a stale
// catalog triggers a background refresh but serves the last-known models
// (or the empty set before the first successful fetch) without waiting.
// Availability is computed per call from credential state. The result is
// sorted by id for stable listings.
func (r *Registry) Models(ctx context.Context, userID string) []core.Model {
	for name := range r.adapters {
		r.refreshIfStale(ctx, name, userID)
	}

	r.mu.RLock()
	out := make([]core.Model, 0, len(r.static))
	for name, cat := range r.catalogs {
		available := r.creds.HasCredential(ctx, name, userID)
		for _, m := range cat.models {
			m.Available = available
			out = append(out, m)
		}
	}
	r.mu.RUnlock()

	for _, m := range r.static {
		m.Available = r.creds.HasCredential(ctx, m.Provider, userID)
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup finds the model and the adapter serving it. Reading a stale catalog
// triggers a background refresh; the search runs over what is known right
// now. Static models are always searchable.
func (r *Registry) Lookup(ctx context.Context, modelID, userID string) (core.Model, core.Adapter, error) {
	for name := range r.adapters {
		r.refreshIfStale(ctx, name, userID)
	}

	r.mu.RLock()
	for name, cat := range r.catalogs {
		for _, m := range cat.models {
			if m.ID == modelID {
				r.mu.RUnlock()
				m.Available = r.creds.HasCredential(ctx, name, userID)
				return m, r.adapters[name], nil
			}
		}
	}
	r.mu.RUnlock()

	for _, m := range r.static {
		if m.ID == modelID {
			adapter, ok := r.adapters[m.Provider]
			if !ok {
				break
			}
			m.Available = r.creds.HasCredential(ctx, m.Provider, userID)
			return m, adapter, nil
		}
	}

	return core.Model{}, nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
}

// Adapter returns the adapter registered under the provider name.
func (r *Registry) Adapter(provider string) (core.Adapter, bool) {
	a, ok := r.adapters[provider]
	return a, ok
}

// Refresh discovers every provider's catalog regardless of TTL and waits
// for completion. Reads never do this; they trigger background refreshes
// and serve whatever is already known. Intended for startup warm-up.
func (r *Registry) Refresh(ctx context.Context, userID string) {
	for name := range r.adapters {
		r.fetch(ctx, name, userID)
	}
}

// refreshIfStale triggers a background fetch when the last successful fetch
// is older than the TTL. The check is timestamp-gated on the read path;
// there is no timer loop. The caller never waits: the last-known catalog
// keeps serving until the fetch lands.
func (r *Registry) refreshIfStale(ctx context.Context, provider, userID string) {
	r.mu.Lock()
	cat := r.catalogs[provider]
	fresh := r.now().Sub(cat.fetchedAt) < r.ttl
	coolingDown := r.now().Sub(cat.failedAt) < retryCooldown
	if fresh || coolingDown || cat.refreshing {
		r.mu.Unlock()
		return
	}
	cat.refreshing = true
	r.mu.Unlock()

	// The fetch outlives the request that triggered it.
	bg := context.WithoutCancel(ctx)
	go func() {
		r.fetch(bg, provider, userID)
		r.mu.Lock()
		r.catalogs[provider].refreshing = false
		r.mu.Unlock()
	}()
}

// fetch performs one discovery call and swaps in the result.
func (r *Registry) fetch(ctx context.Context, provider, userID string) {
	adapter := r.adapters[provider]

	// Discovery prefers the requesting user's key so BYOK-only providers
	// still get a catalog. The fetched catalog is shared; availability is
	// recomputed per user on every read.
	cred, err := r.creds.Resolve(ctx, provider, userID)
	if err != nil {
		// No key at all: discovery is impossible, and the last-known
		// catalog (possibly from a snapshot) stays in place.
		r.markFailed(provider)
		return
	}

	models, err := adapter.Models(ctx, cred)
	if err != nil {
		r.logger.Warn("model discovery failed, keeping last-known catalog",
			"provider", provider, "error", err)
		r.markFailed(provider)
		return
	}
	if r.enrich != nil {
		models = r.enrich(models)
	}

	r.mu.Lock()
	r.catalogs[provider] = &catalog{models: models, fetchedAt: r.now()}
	r.mu.Unlock()

	r.logger.Info("refreshed model catalog", "provider", provider, "models", len(models))
	r.saveSnapshot(ctx)
}

func (r *Registry) markFailed(provider string) {
	r.mu.Lock()
	r.catalogs[provider].failedAt = r.now()
	r.mu.Unlock()
}

// saveSnapshot persists all catalogs after a successful refresh.
func (r *Registry) saveSnapshot(ctx context.Context) {
	if r.snapshots == nil {
		return
	}

	snap := &cache.CatalogSnapshot{
		Version:   cache.SnapshotVersion,
		UpdatedAt: r.now().UTC(),
		Providers: make(map[string]*cache.ProviderSnapshot),
	}
	r.mu.RLock()
	for name, cat := range r.catalogs {
		if cat.fetchedAt.IsZero() {
			continue
		}
		models := make([]core.Model, len(cat.models))
		copy(models, cat.models)
		snap.Providers[name] = &cache.ProviderSnapshot{Models: models, FetchedAt: cat.fetchedAt}
	}
	r.mu.RUnlock()

	if err := r.snapshots.Set(ctx, snap); err != nil {
		r.logger.Warn("failed to save catalog snapshot", "error", err)
	}
}
