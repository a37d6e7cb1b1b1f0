package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS user_keys (
	user_id    TEXT NOT NULL,
	provider   TEXT NOT NULL,
	ciphertext BYTEA NOT NULL,
	salt       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_assistant_messages_chat ON assistant_messages(chat_id);
`

// postgresStore implements Store for PostgreSQL via a pgx connection pool.
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQL creates a new PostgreSQL store.
func NewPostgreSQL(ctx context.Context, cfg PostgreSQLConfig) (Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("PostgreSQL URL is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	} else {
		poolCfg.MaxConns = 10
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) GetUserKey(ctx context.Context, userID, provider string) (*StoredKey, error) {
	key := &StoredKey{UserID: userID, Provider: provider}
	err := s.pool.QueryRow(ctx,
		`SELECT ciphertext, salt, updated_at FROM user_keys WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	).Scan(&key.Ciphertext, &key.Salt, &key.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user key: %w", err)
	}
	return key, nil
}

func (s *postgresStore) PutUserKey(ctx context.Context, key *StoredKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_keys (user_id, provider, ciphertext, salt, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (user_id, provider) DO UPDATE SET
		   ciphertext = EXCLUDED.ciphertext,
		   salt = EXCLUDED.salt,
		   updated_at = now()`,
		key.UserID, key.Provider, key.Ciphertext, key.Salt,
	)
	if err != nil {
		return fmt.Errorf("failed to store user key: %w", err)
	}
	return nil
}

func (s *postgresStore) DeleteUserKey(ctx context.Context, userID, provider string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM user_keys WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user key: %w", err)
	}
	return nil
}

func (s *postgresStore) GetCustomInstructions(ctx context.Context, userID string) (string, error) {
	var instructions string
	err := s.pool.QueryRow(ctx,
		`SELECT custom_instructions FROM user_settings WHERE user_id = $1`,
		userID,
	).Scan(&instructions)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query custom instructions: %w", err)
	}
	return instructions, nil
}

func (s *postgresStore) SetCustomInstructions(ctx context.Context, userID, instructions string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_settings (user_id, custom_instructions) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET custom_instructions = EXCLUDED.custom_instructions`,
		userID, instructions,
	)
	if err != nil {
		return fmt.Errorf("failed to store custom instructions: %w", err)
	}
	return nil
}

func (s *postgresStore) SaveAssistantMessage(ctx context.Context, msg *AssistantMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO assistant_messages (id, chat_id, model, provider, content, status, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ChatID, msg.Model, msg.Provider, msg.Content, msg.Status, msg.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to save assistant message: %w", err)
	}
	return nil
}

func (s *postgresStore) GetAssistantMessage(ctx context.Context, id string) (*AssistantMessage, error) {
	msg := &AssistantMessage{ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT chat_id, model, provider, content, status, error_message, created_at
		 FROM assistant_messages WHERE id = $1`,
		id,
	).Scan(&msg.ChatID, &msg.Model, &msg.Provider, &msg.Content, &msg.Status, &msg.ErrorMessage, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query assistant message: %w", err)
	}
	return msg, nil
}

func (s *postgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
