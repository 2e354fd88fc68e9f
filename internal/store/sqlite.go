package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/neurobot/internal/domain"
	"github.com/ashureev/neurobot/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_states (
		user_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		state_json TEXT NOT NULL,
		chat_count INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_states_updated ON chat_states(updated_at);

	CREATE TABLE IF NOT EXISTS telegram_channels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT NOT NULL,
		channel_name TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_telegram_channels_user ON telegram_channels(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// GetChatState returns the stored chat store blob of a user.
func (s *SQLiteStore) GetChatState(ctx context.Context, userID string) (*domain.ChatState, error) {
	query := `
		SELECT user_id, version, state_json, chat_count, updated_at
		FROM chat_states WHERE user_id = ?`

	var state domain.ChatState
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&state.UserID, &state.Version, &state.StateJSON, &state.ChatCount, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat state: %w", err)
	}
	state.UpdatedAt = time.Unix(updatedAt, 0)
	return &state, nil
}

// UpsertChatState creates or replaces the chat store blob of a user.
func (s *SQLiteStore) UpsertChatState(ctx context.Context, state *domain.ChatState) error {
	query := `
		INSERT INTO chat_states (user_id, version, state_json, chat_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			version = excluded.version,
			state_json = excluded.state_json,
			chat_count = excluded.chat_count,
			updated_at = excluded.updated_at`

	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	return withRetry(ctx, "upsert chat state", func() error {
		_, err := s.db.ExecContext(ctx, query,
			state.UserID, state.Version, state.StateJSON, state.ChatCount, updatedAt.Unix(),
		)
		return err
	})
}

// DeleteChatState removes the chat store blob of a user.
func (s *SQLiteStore) DeleteChatState(ctx context.Context, userID string) error {
	return withRetry(ctx, "delete chat state", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM chat_states WHERE user_id = ?`, userID)
		return err
	})
}

// CleanupStaleChatStates removes chat states not updated within maxIdle.
func (s *SQLiteStore) CleanupStaleChatStates(ctx context.Context, maxIdle time.Duration) (int64, error) {
	threshold := time.Now().Add(-maxIdle).Unix()

	var deleted int64
	err := withRetry(ctx, "cleanup stale chat states", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM chat_states WHERE updated_at < ?`, threshold)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// CreateTelegramChannel stores a channel and fills in its ID and CreatedAt.
func (s *SQLiteStore) CreateTelegramChannel(ctx context.Context, channel *domain.TelegramChannel) error {
	if channel.CreatedAt.IsZero() {
		channel.CreatedAt = time.Now()
	}

	query := `INSERT INTO telegram_channels (token, channel_name, user_id, created_at) VALUES (?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query,
		channel.Token, channel.ChannelName, channel.UserID, channel.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert telegram channel: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get telegram channel id: %w", err)
	}
	channel.ID = id
	channel.CreatedAt = time.Unix(channel.CreatedAt.Unix(), 0)
	return nil
}

// ListTelegramChannels returns the channels of a user, newest first.
func (s *SQLiteStore) ListTelegramChannels(ctx context.Context, userID string) ([]*domain.TelegramChannel, error) {
	query := `
		SELECT id, token, channel_name, user_id, created_at
		FROM telegram_channels WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query telegram channels: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close telegram channel rows", "error", closeErr)
		}
	}()

	channels := []*domain.TelegramChannel{}
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telegram channels: %w", err)
	}
	return channels, nil
}

// GetTelegramChannel returns a channel owned by userID.
func (s *SQLiteStore) GetTelegramChannel(ctx context.Context, userID string, id int64) (*domain.TelegramChannel, error) {
	query := `
		SELECT id, token, channel_name, user_id, created_at
		FROM telegram_channels WHERE id = ? AND user_id = ?`

	ch, err := scanChannel(s.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return ch, err
}

// DeleteTelegramChannel removes a channel owned by userID.
func (s *SQLiteStore) DeleteTelegramChannel(ctx context.Context, userID string, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM telegram_channels WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete telegram channel: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (*domain.TelegramChannel, error) {
	var ch domain.TelegramChannel
	var createdAt int64
	if err := row.Scan(&ch.ID, &ch.Token, &ch.ChannelName, &ch.UserID, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan telegram channel: %w", err)
	}
	ch.CreatedAt = time.Unix(createdAt, 0)
	return &ch, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func withRetry(ctx context.Context, op string, fn func() error) error {
	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, op, fn)
}
