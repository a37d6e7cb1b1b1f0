package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"modelgate/internal/core"
)

func testSnapshot() *CatalogSnapshot {
	return &CatalogSnapshot{
		Version:   SnapshotVersion,
		UpdatedAt: time.Now().UTC(),
		Providers: map[string]*ProviderSnapshot{
			"openai": {
				Models: []core.Model{
					{ID: "gpt-4o", Provider: "openai", Capabilities: []core.Capability{core.CapabilityText}},
				},
				FetchedAt: time.Now().UTC(),
			},
		},
	}
}

func TestLocalCache(t *testing.T) {
	t.Run("GetSetRoundTrip", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "catalogs.json")
		cache := NewLocalCache(cacheFile)
		ctx := context.Background()

		// Initially empty
		result, err := cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != nil {
			t.Fatalf("expected nil result for empty cache, got %v", result)
		}

		if err := cache.Set(ctx, testSnapshot()); err != nil {
			t.Fatalf("unexpected error on set: %v", err)
		}

		result, err = cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error on get: %v", err)
		}
		if result == nil {
			t.Fatal("expected result, got nil")
		}
		prov := result.Providers["openai"]
		if prov == nil || len(prov.Models) != 1 {
			t.Fatalf("unexpected provider snapshot: %+v", prov)
		}
		if prov.Models[0].ID != "gpt-4o" {
			t.Errorf("model id = %q", prov.Models[0].ID)
		}
	})

	t.Run("CreateDirectoryIfNeeded", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "nested", "dir", "catalogs.json")
		cache := NewLocalCache(cacheFile)

		if err := cache.Set(context.Background(), testSnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := os.Stat(cacheFile); os.IsNotExist(err) {
			t.Fatal("snapshot file was not created")
		}
	})

	t.Run("EmptyFilePath", func(t *testing.T) {
		cache := NewLocalCache("")
		ctx := context.Background()

		result, err := cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != nil {
			t.Fatal("expected nil result for empty path")
		}

		// Set should be a no-op
		if err := cache.Set(ctx, testSnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("StaleVersionDiscarded", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "catalogs.json")
		cache := NewLocalCache(cacheFile)
		ctx := context.Background()

		snap := testSnapshot()
		snap.Version = SnapshotVersion + 1
		if err := cache.Set(ctx, snap); err != nil {
			t.Fatalf("set: %v", err)
		}

		result, err := cache.Get(ctx)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if result != nil {
			t.Error("expected snapshot with unknown version to be discarded")
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "catalogs.json")
		if err := os.WriteFile(cacheFile, []byte("not valid json"), 0o644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}

		cache := NewLocalCache(cacheFile)
		if _, err := cache.Get(context.Background()); err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})
}
