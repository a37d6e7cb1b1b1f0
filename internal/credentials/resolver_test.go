package credentials

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"modelgate/internal/core"
	"modelgate/internal/storage"
)

func newTestCipher(t *testing.T) *AESCipher {
	t.Helper()
	c, err := NewAESCipher("test-secret")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	return c
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewSQLite(storage.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// countingStore wraps a Store and counts GetUserKey calls so cache behavior
// is observable.
type countingStore struct {
	storage.Store
	gets atomic.Int64
}

func (s *countingStore) GetUserKey(ctx context.Context, userID, provider string) (*storage.StoredKey, error) {
	s.gets.Add(1)
	return s.Store.GetUserKey(ctx, userID, provider)
}

func TestCipherRoundTrip(t *testing.T) {
	c := newTestCipher(t)
	salt, err := c.NewSalt()
	if err != nil {
		t.Fatalf("salt: %v", err)
	}

	ciphertext, err := c.Encrypt("sk-secret-key", "u1", salt)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := c.Decrypt(ciphertext, "u1", salt)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != "sk-secret-key" {
		t.Errorf("decrypted = %q", got)
	}

	// Wrong user id must not decrypt.
	if _, err := c.Decrypt(ciphertext, "u2", salt); err == nil {
		t.Error("expected decrypt failure for wrong user")
	}
}

func TestResolvePrecedence(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store, newTestCipher(t), map[string]string{"openai": "sk-account"})
	ctx := context.Background()

	// No user key: account key wins.
	cred, err := r.Resolve(ctx, "openai", "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cred.Key != "sk-account" || cred.Source != core.CredentialAccount {
		t.Errorf("cred = %+v", cred)
	}

	// User key takes precedence once stored.
	if err := r.PutUserKey(ctx, "u1", "openai", "sk-user"); err != nil {
		t.Fatalf("put: %v", err)
	}
	cred, err = r.Resolve(ctx, "openai", "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cred.Key != "sk-user" || cred.Source != core.CredentialUser {
		t.Errorf("cred = %+v", cred)
	}

	// Another user still gets the account key.
	cred, _ = r.Resolve(ctx, "openai", "u2")
	if cred.Key != "sk-account" {
		t.Errorf("u2 cred = %+v", cred)
	}
}

func TestResolveNoCredential(t *testing.T) {
	r := NewResolver(newTestStore(t), newTestCipher(t), nil)

	_, err := r.Resolve(context.Background(), "anthropic", "u1")
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}
}

func TestResolveCachesWithinTTL(t *testing.T) {
	counting := &countingStore{Store: newTestStore(t)}
	now := time.Now()
	r := NewResolver(counting, newTestCipher(t), nil,
		WithTTL(time.Minute),
		withClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	if err := r.PutUserKey(ctx, "u1", "openai", "sk-user"); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Put primed the cache; repeated resolves stay in memory.
	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(ctx, "openai", "u1"); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	if got := counting.gets.Load(); got != 0 {
		t.Errorf("store reads = %d, want 0", got)
	}

	// Past the TTL the entry is a miss and the store is consulted again.
	now = now.Add(2 * time.Minute)
	cred, err := r.Resolve(ctx, "openai", "u1")
	if err != nil {
		t.Fatalf("resolve after expiry: %v", err)
	}
	if cred.Key != "sk-user" {
		t.Errorf("cred = %+v", cred)
	}
	if got := counting.gets.Load(); got != 1 {
		t.Errorf("store reads = %d, want 1", got)
	}
}

func TestDeleteInvalidatesCache(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store, newTestCipher(t), map[string]string{"openai": "sk-account"})
	ctx := context.Background()

	if err := r.PutUserKey(ctx, "u1", "openai", "sk-user"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := r.DeleteUserKey(ctx, "u1", "openai"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Even though the cached entry was fresh, delete dropped it.
	cred, err := r.Resolve(ctx, "openai", "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cred.Key != "sk-account" || cred.Source != core.CredentialAccount {
		t.Errorf("cred after delete = %+v", cred)
	}
}

func TestPutOverwritesCacheImmediately(t *testing.T) {
	counting := &countingStore{Store: newTestStore(t)}
	r := NewResolver(counting, newTestCipher(t), nil)
	ctx := context.Background()

	_ = r.PutUserKey(ctx, "u1", "openai", "sk-old")
	_ = r.PutUserKey(ctx, "u1", "openai", "sk-new")

	cred, err := r.Resolve(ctx, "openai", "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cred.Key != "sk-new" {
		t.Errorf("cred = %+v, want sk-new", cred)
	}
	if got := counting.gets.Load(); got != 0 {
		t.Errorf("store reads = %d, want 0 (cache overwritten by put)", got)
	}
}

func TestHasCredential(t *testing.T) {
	r := NewResolver(newTestStore(t), newTestCipher(t), map[string]string{"openai": "sk-account"})
	ctx := context.Background()

	if !r.HasCredential(ctx, "openai", "u1") {
		t.Error("expected credential for openai")
	}
	if r.HasCredential(ctx, "anthropic", "u1") {
		t.Error("expected no credential for anthropic")
	}
}
