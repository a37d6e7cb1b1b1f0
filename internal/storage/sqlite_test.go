package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUserKeyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Absent key is nil, nil — not an error.
	key, err := store.GetUserKey(ctx, "u1", "openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != nil {
		t.Fatal("expected nil for absent key")
	}

	if err := store.PutUserKey(ctx, &StoredKey{
		UserID:     "u1",
		Provider:   "openai",
		Ciphertext: []byte("ciphertext"),
		Salt:       []byte("salt"),
	}); err != nil {
		t.Fatalf("put: %v", err)
	}

	key, err = store.GetUserKey(ctx, "u1", "openai")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if key == nil {
		t.Fatal("expected stored key")
	}
	if string(key.Ciphertext) != "ciphertext" || string(key.Salt) != "salt" {
		t.Errorf("stored key = %q/%q", key.Ciphertext, key.Salt)
	}

	// Upsert replaces.
	if err := store.PutUserKey(ctx, &StoredKey{
		UserID:     "u1",
		Provider:   "openai",
		Ciphertext: []byte("new-ciphertext"),
		Salt:       []byte("new-salt"),
	}); err != nil {
		t.Fatalf("put replace: %v", err)
	}
	key, err = store.GetUserKey(ctx, "u1", "openai")
	if err != nil {
		t.Fatalf("get after replace: %v", err)
	}
	if string(key.Ciphertext) != "new-ciphertext" {
		t.Errorf("Ciphertext = %q after replace", key.Ciphertext)
	}
}

func TestDeleteUserKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Deleting a missing key is a no-op.
	if err := store.DeleteUserKey(ctx, "u1", "openai"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}

	_ = store.PutUserKey(ctx, &StoredKey{UserID: "u1", Provider: "openai", Ciphertext: []byte("c"), Salt: []byte("s")})
	if err := store.DeleteUserKey(ctx, "u1", "openai"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	key, err := store.GetUserKey(ctx, "u1", "openai")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if key != nil {
		t.Error("key still present after delete")
	}
}

func TestKeysAreScopedPerProvider(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.PutUserKey(ctx, &StoredKey{UserID: "u1", Provider: "openai", Ciphertext: []byte("a"), Salt: []byte("s")})
	_ = store.PutUserKey(ctx, &StoredKey{UserID: "u1", Provider: "anthropic", Ciphertext: []byte("b"), Salt: []byte("s")})

	key, _ := store.GetUserKey(ctx, "u1", "anthropic")
	if key == nil || string(key.Ciphertext) != "b" {
		t.Errorf("anthropic key = %v", key)
	}
}

func TestCustomInstructions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.GetCustomInstructions(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty instructions, got %q", got)
	}

	if err := store.SetCustomInstructions(ctx, "u1", "answer in French"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, _ = store.GetCustomInstructions(ctx, "u1")
	if got != "answer in French" {
		t.Errorf("instructions = %q", got)
	}

	// Overwrite.
	_ = store.SetCustomInstructions(ctx, "u1", "answer in German")
	got, _ = store.GetCustomInstructions(ctx, "u1")
	if got != "answer in German" {
		t.Errorf("instructions after overwrite = %q", got)
	}
}

func TestAssistantMessageRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	msg := &AssistantMessage{
		ID:       "m1",
		ChatID:   "c1",
		Model:    "gpt-4o",
		Provider: "openai",
		Content:  "Hello wor",
		Status:   "cancelled",
	}
	if err := store.SaveAssistantMessage(ctx, msg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetAssistantMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected message")
	}
	if got.Content != "Hello wor" || got.Status != "cancelled" {
		t.Errorf("got content=%q status=%q", got.Content, got.Status)
	}

	missing, err := store.GetAssistantMessage(ctx, "nope")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing message")
	}
}

func TestFactorySelectsBackend(t *testing.T) {
	store, err := New(context.Background(), Config{
		Type:   TypeSQLite,
		SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = store.Close()

	if _, err := New(context.Background(), Config{Type: "bogus"}); err == nil {
		t.Fatal("expected error for unknown storage type")
	}
}
