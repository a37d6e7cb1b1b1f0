package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS user_keys (
	user_id    TEXT NOT NULL,
	provider   TEXT NOT NULL,
	ciphertext BLOB NOT NULL,
	salt       BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, provider)
);

CREATE TABLE IF NOT EXISTS user_settings (
	user_id             TEXT PRIMARY KEY,
	custom_instructions TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS assistant_messages (
	id            TEXT PRIMARY KEY,
	chat_id       TEXT NOT NULL,
	model         TEXT NOT NULL,
	provider      TEXT NOT NULL,
	content       TEXT NOT NULL,
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_assistant_messages_chat ON assistant_messages(chat_id);
`

// sqliteStore implements Store for SQLite.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store. WAL mode is enabled for concurrent
// reads while streaming requests finalize.
func NewSQLite(cfg SQLiteConfig) (Store, error) {
	if cfg.Path == "" {
		cfg.Path = filepath.Join(".cache", "modelgate.db")
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&_synchronous=NORMAL", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite only allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) GetUserKey(ctx context.Context, userID, provider string) (*StoredKey, error) {
	key := &StoredKey{UserID: userID, Provider: provider}
	err := s.db.QueryRowContext(ctx,
		`SELECT ciphertext, salt, updated_at FROM user_keys WHERE user_id = ? AND provider = ?`,
		userID, provider,
	).Scan(&key.Ciphertext, &key.Salt, &key.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user key: %w", err)
	}
	return key, nil
}

func (s *sqliteStore) PutUserKey(ctx context.Context, key *StoredKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_keys (user_id, provider, ciphertext, salt, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (user_id, provider) DO UPDATE SET
		   ciphertext = excluded.ciphertext,
		   salt = excluded.salt,
		   updated_at = CURRENT_TIMESTAMP`,
		key.UserID, key.Provider, key.Ciphertext, key.Salt,
	)
	if err != nil {
		return fmt.Errorf("failed to store user key: %w", err)
	}
	return nil
}

func (s *sqliteStore) DeleteUserKey(ctx context.Context, userID, provider string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_keys WHERE user_id = ? AND provider = ?`,
		userID, provider,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user key: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetCustomInstructions(ctx context.Context, userID string) (string, error) {
	var instructions string
	err := s.db.QueryRowContext(ctx,
		`SELECT custom_instructions FROM user_settings WHERE user_id = ?`,
		userID,
	).Scan(&instructions)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query custom instructions: %w", err)
	}
	return instructions, nil
}

func (s *sqliteStore) SetCustomInstructions(ctx context.Context, userID, instructions string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, custom_instructions) VALUES (?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET custom_instructions = excluded.custom_instructions`,
		userID, instructions,
	)
	if err != nil {
		return fmt.Errorf("failed to store custom instructions: %w", err)
	}
	return nil
}

func (s *sqliteStore) SaveAssistantMessage(ctx context.Context, msg *AssistantMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assistant_messages (id, chat_id, model, provider, content, status, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.Model, msg.Provider, msg.Content, msg.Status, msg.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to save assistant message: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetAssistantMessage(ctx context.Context, id string) (*AssistantMessage, error) {
	msg := &AssistantMessage{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, model, provider, content, status, error_message, created_at
		 FROM assistant_messages WHERE id = ?`,
		id,
	).Scan(&msg.ChatID, &msg.Model, &msg.Provider, &msg.Content, &msg.Status, &msg.ErrorMessage, &msg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query assistant message: %w", err)
	}
	return msg, nil
}

func (s *sqliteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
