package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"modelgate/internal/core"
	"modelgate/internal/storage"
)

// ErrNoCredential means neither a user key nor an account key exists for the
// provider. Callers surface it as a configuration error naming the provider.
var ErrNoCredential = errors.New("no credential available")

// DefaultTTL bounds how long a decrypted user key may be served from memory
// before the store is consulted again.
const DefaultTTL = 5 * time.Minute

type cacheKey struct {
	userID   string
	provider string
}

type cacheEntry struct {
	key      string
	cachedAt time.Time
}

// Resolver resolves the API key for a (provider, user) pair. User-stored
// keys take precedence over account-wide keys. Decrypted user keys are
// cached in memory with a TTL; writes go through the resolver so the cache
// never serves a value the store no longer holds.
type Resolver struct {
	store       storage.Store
	cipher      Cipher
	accountKeys map[string]string
	ttl         time.Duration
	logger      *slog.Logger

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry

	now func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithTTL overrides the cache entry lifetime.
func WithTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) { r.ttl = ttl }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// withClock injects a fake clock for expiry tests.
func withClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver. accountKeys maps provider name to the
// account-wide key from configuration; providers without an entry require a
// user key.
func NewResolver(store storage.Store, cipher Cipher, accountKeys map[string]string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:       store,
		cipher:      cipher,
		accountKeys: accountKeys,
		ttl:         DefaultTTL,
		logger:      slog.Default(),
		cache:       make(map[cacheKey]cacheEntry),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the credential for a (provider, user) pair: the user's
// stored key if one exists, otherwise the account-wide key, otherwise
// ErrNoCredential.
func (r *Resolver) Resolve(ctx context.Context, provider, userID string) (core.Credential, error) {
	if userID != "" {
		key, ok, err := r.userKey(ctx, provider, userID)
		if err != nil {
			return core.Credential{}, err
		}
		if ok {
			return core.Credential{Key: key, Source: core.CredentialUser}, nil
		}
	}

	if key, ok := r.accountKeys[provider]; ok && key != "" {
		return core.Credential{Key: key, Source: core.CredentialAccount}, nil
	}

	return core.Credential{}, fmt.Errorf("provider %s: %w", provider, ErrNoCredential)
}

// HasCredential reports whether Resolve would succeed, without returning the
// key. Used for availability checks on model listings.
func (r *Resolver) HasCredential(ctx context.Context, provider, userID string) bool {
	_, err := r.Resolve(ctx, provider, userID)
	return err == nil
}

// userKey returns the user's decrypted key, serving from cache when the
// entry is younger than the TTL.
func (r *Resolver) userKey(ctx context.Context, provider, userID string) (string, bool, error) {
	ck := cacheKey{userID: userID, provider: provider}

	r.mu.RLock()
	entry, hit := r.cache[ck]
	r.mu.RUnlock()
	if hit && r.now().Sub(entry.cachedAt) < r.ttl {
		return entry.key, true, nil
	}

	stored, err := r.store.GetUserKey(ctx, userID, provider)
	if err != nil {
		return "", false, fmt.Errorf("failed to load user key: %w", err)
	}
	if stored == nil {
		// Expired entry with no backing row: drop it.
		if hit {
			r.mu.Lock()
			delete(r.cache, ck)
			r.mu.Unlock()
		}
		return "", false, nil
	}

	plaintext, err := r.cipher.Decrypt(stored.Ciphertext, userID, stored.Salt)
	if err != nil {
		return "", false, fmt.Errorf("failed to decrypt user key for %s: %w", provider, err)
	}

	r.mu.Lock()
	r.cache[ck] = cacheEntry{key: plaintext, cachedAt: r.now()}
	r.mu.Unlock()

	return plaintext, true, nil
}

// PutUserKey encrypts and persists a user key, then overwrites the cache
// entry so the new key takes effect immediately.
func (r *Resolver) PutUserKey(ctx context.Context, userID, provider, plaintext string) error {
	salt, err := r.cipher.NewSalt()
	if err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	ciphertext, err := r.cipher.Encrypt(plaintext, userID, salt)
	if err != nil {
		return fmt.Errorf("failed to encrypt user key: %w", err)
	}

	if err := r.store.PutUserKey(ctx, &storage.StoredKey{
		UserID:     userID,
		Provider:   provider,
		Ciphertext: ciphertext,
		Salt:       salt,
	}); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[cacheKey{userID: userID, provider: provider}] = cacheEntry{key: plaintext, cachedAt: r.now()}
	r.mu.Unlock()

	r.logger.Info("stored user key", "provider", provider, "user_id", userID)
	return nil
}

// DeleteUserKey removes the user's key from the store and invalidates the
// cache entry unconditionally. Subsequent resolves fall through to the
// account key.
func (r *Resolver) DeleteUserKey(ctx context.Context, userID, provider string) error {
	if err := r.store.DeleteUserKey(ctx, userID, provider); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, cacheKey{userID: userID, provider: provider})
	r.mu.Unlock()

	r.logger.Info("deleted user key", "provider", provider, "user_id", userID)
	return nil
}
