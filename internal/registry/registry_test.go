package registry

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"modelgate/internal/cache"
	"modelgate/internal/core"
)

// fakeAdapter serves a scripted catalog and counts discovery calls.
type fakeAdapter struct {
	name   string
	models []core.Model
	err    error
	calls  atomic.Int64
}

func (a *fakeAdapter) Name() string                 { return a.name }
func (a *fakeAdapter) Contract() core.InputContract { return core.InputContract{Provider: a.name} }

func (a *fakeAdapter) SendMessage(ctx context.Context, req *core.ProviderRequest) (string, error) {
	return "", errors.New("not implemented")
}

func (a *fakeAdapter) StreamMessage(ctx context.Context, req *core.ProviderRequest) (core.TextStream, error) {
	return nil, errors.New("not implemented")
}

func (a *fakeAdapter) ValidateCredential(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (a *fakeAdapter) Models(ctx context.Context, cred core.Credential) ([]core.Model, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	return a.models, nil
}

// blockingAdapter parks discovery until released.
type blockingAdapter struct {
	fakeAdapter
	entered atomic.Int64
	release chan struct{}
}

func (a *blockingAdapter) Models(ctx context.Context, cred core.Credential) ([]core.Model, error) {
	a.entered.Add(1)
	<-a.release
	return a.fakeAdapter.Models(ctx, cred)
}

// fakeCreds resolves account keys for a fixed provider set. Safe for
// concurrent use since background fetches resolve off the test goroutine.
type fakeCreds struct {
	mu        sync.Mutex
	providers map[string]bool
}

func (c *fakeCreds) Resolve(ctx context.Context, provider, userID string) (core.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.providers[provider] {
		return core.Credential{Key: "sk-test", Source: core.CredentialAccount}, nil
	}
	return core.Credential{}, errors.New("no credential available")
}

func (c *fakeCreds) HasCredential(ctx context.Context, provider, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.providers[provider]
}

func (c *fakeCreds) allow(provider string) {
	c.mu.Lock()
	c.providers[provider] = true
	c.mu.Unlock()
}

// fakeClock is a mutable clock safe to read from background fetches.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testModels(provider string, ids ...string) []core.Model {
	out := make([]core.Model, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.Model{ID: id, Provider: provider, Capabilities: []core.Capability{core.CapabilityText}})
	}
	return out
}

// waitFor polls until cond holds; discovery runs in the background, so
// tests observe its results rather than its completion.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func waitForModel(t *testing.T, r *Registry, modelID, userID string) core.Model {
	t.Helper()
	var model core.Model
	waitFor(t, func() bool {
		m, _, err := r.Lookup(context.Background(), modelID, userID)
		if err != nil {
			return false
		}
		model = m
		return true
	})
	return model
}

func TestLookupAndListing(t *testing.T) {
	openai := &fakeAdapter{name: "openai", models: testModels("openai", "gpt-4o", "gpt-4o-mini")}
	anthropic := &fakeAdapter{name: "anthropic", models: testModels("anthropic", "claude-sonnet")}
	creds := &fakeCreds{providers: map[string]bool{"openai": true, "anthropic": true}}

	r := New(map[string]core.Adapter{"openai": openai, "anthropic": anthropic}, creds)
	ctx := context.Background()

	waitForModel(t, r, "claude-sonnet", "u1")
	waitForModel(t, r, "gpt-4o", "u1")

	model, adapter, err := r.Lookup(ctx, "claude-sonnet", "u1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if adapter.Name() != "anthropic" {
		t.Errorf("adapter = %s", adapter.Name())
	}
	if !model.Available {
		t.Error("expected model available with credential")
	}

	models := r.Models(ctx, "u1")
	if len(models) != 3 {
		t.Fatalf("models = %d, want 3", len(models))
	}
	// Sorted by id.
	if models[0].ID != "claude-sonnet" {
		t.Errorf("first model = %s", models[0].ID)
	}

	_, _, err = r.Lookup(ctx, "nonexistent", "u1")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("err = %v, want ErrModelNotFound", err)
	}
}

func TestReadsDoNotWaitOnDiscovery(t *testing.T) {
	adapter := &blockingAdapter{
		fakeAdapter: fakeAdapter{name: "openai", models: testModels("openai", "gpt-4o")},
		release:     make(chan struct{}),
	}
	creds := &fakeCreds{providers: map[string]bool{"openai": true}}
	r := New(map[string]core.Adapter{"openai": adapter}, creds)
	ctx := context.Background()

	// Before the first successful fetch reads serve the empty set
	// immediately; discovery runs in the background.
	if got := len(r.Models(ctx, "u1")); got != 0 {
		t.Fatalf("models before first fetch = %d, want 0", got)
	}
	waitFor(t, func() bool { return adapter.entered.Load() == 1 })

	// Reads while the fetch is in flight return promptly and do not pile
	// on extra discovery calls.
	if got := len(r.Models(ctx, "u1")); got != 0 {
		t.Errorf("models during fetch = %d, want 0", got)
	}
	if _, _, err := r.Lookup(ctx, "gpt-4o", "u1"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("lookup during fetch: err = %v, want ErrModelNotFound", err)
	}
	if got := adapter.entered.Load(); got != 1 {
		t.Errorf("discovery calls = %d, want 1", got)
	}

	close(adapter.release)
	model := waitForModel(t, r, "gpt-4o", "u1")
	if !model.Available {
		t.Error("expected model available once the fetch lands")
	}
}

func TestCatalogRefreshIsTTLGated(t *testing.T) {
	adapter := &fakeAdapter{name: "openai", models: testModels("openai", "gpt-4o")}
	creds := &fakeCreds{providers: map[string]bool{"openai": true}}

	clk := newFakeClock()
	r := New(map[string]core.Adapter{"openai": adapter}, creds,
		WithCatalogTTL(time.Hour),
		withClock(clk.Now),
	)
	ctx := context.Background()

	waitForModel(t, r, "gpt-4o", "u1")

	// Repeated reads within the TTL never go back upstream.
	for i := 0; i < 3; i++ {
		r.Models(ctx, "u1")
	}
	if got := adapter.calls.Load(); got != 1 {
		t.Errorf("discovery calls = %d, want 1", got)
	}

	// Past the TTL the next read triggers a refresh.
	clk.Advance(2 * time.Hour)
	r.Models(ctx, "u1")
	waitFor(t, func() bool { return adapter.calls.Load() == 2 })
}

func TestFailedRefreshKeepsLastKnownCatalog(t *testing.T) {
	adapter := &fakeAdapter{name: "openai", models: testModels("openai", "gpt-4o")}
	creds := &fakeCreds{providers: map[string]bool{"openai": true}}

	clk := newFakeClock()
	r := New(map[string]core.Adapter{"openai": adapter}, creds,
		WithCatalogTTL(time.Hour),
		withClock(clk.Now),
	)
	ctx := context.Background()

	waitForModel(t, r, "gpt-4o", "u1")

	// Upstream starts failing; the stale catalog survives.
	adapter.err = errors.New("upstream down")
	clk.Advance(2 * time.Hour)
	models := r.Models(ctx, "u1")
	if len(models) != 1 || models[0].ID != "gpt-4o" {
		t.Errorf("models while refresh pending = %+v", models)
	}
	waitFor(t, func() bool { return adapter.calls.Load() == 2 })

	models = r.Models(ctx, "u1")
	if len(models) != 1 || models[0].ID != "gpt-4o" {
		t.Errorf("models after failed refresh = %+v", models)
	}
}

func TestNoCredentialMeansEmptyCatalogNotError(t *testing.T) {
	adapter := &fakeAdapter{name: "openai", models: testModels("openai", "gpt-4o")}
	creds := &fakeCreds{providers: map[string]bool{}}

	r := New(map[string]core.Adapter{"openai": adapter}, creds)
	models := r.Models(context.Background(), "u1")
	if len(models) != 0 {
		t.Errorf("models = %+v, want empty", models)
	}
	if got := adapter.calls.Load(); got != 0 {
		t.Errorf("discovery attempted without credential: %d calls", got)
	}
}

func TestStaticModelsAlwaysListed(t *testing.T) {
	adapter := &fakeAdapter{name: "openai", err: errors.New("upstream down")}
	creds := &fakeCreds{providers: map[string]bool{}}

	static := []core.Model{{
		ID:           "gpt-image-1",
		Provider:     "openai",
		Capabilities: []core.Capability{core.CapabilityImageGeneration},
	}}
	r := New(map[string]core.Adapter{"openai": adapter}, creds, WithStaticModels(static))
	ctx := context.Background()

	models := r.Models(ctx, "u1")
	if len(models) != 1 || models[0].ID != "gpt-image-1" {
		t.Fatalf("models = %+v", models)
	}
	// Listed but unavailable without a credential.
	if models[0].Available {
		t.Error("static model should be unavailable without credential")
	}

	model, _, err := r.Lookup(ctx, "gpt-image-1", "u1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if model.Available {
		t.Error("expected unavailable")
	}

	// With a credential it becomes available without any discovery.
	creds.allow("openai")
	model, _, _ = r.Lookup(ctx, "gpt-image-1", "u1")
	if !model.Available {
		t.Error("expected available with credential")
	}
}

func TestForcedRefreshIsSynchronous(t *testing.T) {
	adapter := &fakeAdapter{name: "openai", models: testModels("openai", "gpt-4o")}
	creds := &fakeCreds{providers: map[string]bool{"openai": true}}

	r := New(map[string]core.Adapter{"openai": adapter}, creds)
	ctx := context.Background()

	r.Refresh(ctx, "u1")
	if got := adapter.calls.Load(); got != 1 {
		t.Fatalf("discovery calls = %d, want 1", got)
	}
	if _, _, err := r.Lookup(ctx, "gpt-4o", "u1"); err != nil {
		t.Errorf("lookup after forced refresh: %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	snapFile := filepath.Join(t.TempDir(), "catalogs.json")
	snapCache := cache.NewLocalCache(snapFile)
	creds := &fakeCreds{providers: map[string]bool{"openai": true}}
	ctx := context.Background()

	// First registry fetches and snapshots.
	adapter := &fakeAdapter{name: "openai", models: testModels("openai", "gpt-4o")}
	r1 := New(map[string]core.Adapter{"openai": adapter}, creds, WithSnapshotCache(snapCache))
	r1.Models(ctx, "u1")
	waitFor(t, func() bool {
		snap, err := snapCache.Get(ctx)
		return err == nil && snap != nil
	})

	// Second registry restores the fresh snapshot and serves it without
	// hitting upstream.
	adapter2 := &fakeAdapter{name: "openai", err: errors.New("upstream down")}
	r2 := New(map[string]core.Adapter{"openai": adapter2}, creds, WithSnapshotCache(snapCache))
	if err := r2.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	models := r2.Models(ctx, "u1")
	if len(models) != 1 || models[0].ID != "gpt-4o" {
		t.Errorf("restored models = %+v", models)
	}
	if got := adapter2.calls.Load(); got != 0 {
		t.Errorf("discovery calls after restore = %d, want 0", got)
	}
}

func TestEnricherAppliedOnRefresh(t *testing.T) {
	openai := &fakeAdapter{name: "openai", models: testModels("openai", "gpt-4o")}
	creds := &fakeCreds{providers: map[string]bool{"openai": true}}

	r := New(map[string]core.Adapter{"openai": openai}, creds,
		WithEnricher(func(models []core.Model) []core.Model {
			for i := range models {
				models[i].ContextWindow = 128000
			}
			return models
		}))

	model := waitForModel(t, r, "gpt-4o", "u1")
	if model.ContextWindow != 128000 {
		t.Errorf("context window = %d, want enriched value", model.ContextWindow)
	}
}
