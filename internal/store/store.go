// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/neurobot/internal/domain"
)

// Repository defines the interface for persisting users, chat states and channels.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetChatState returns the stored chat store blob of a user, or nil if none.
	GetChatState(ctx context.Context, userID string) (*domain.ChatState, error)

	// UpsertChatState creates or replaces the chat store blob of a user.
	UpsertChatState(ctx context.Context, state *domain.ChatState) error

	// DeleteChatState removes the chat store blob of a user.
	DeleteChatState(ctx context.Context, userID string) error

	// CleanupStaleChatStates removes chat states not updated within maxIdle.
	CleanupStaleChatStates(ctx context.Context, maxIdle time.Duration) (int64, error)

	// CreateTelegramChannel stores a channel and fills in its ID and CreatedAt.
	CreateTelegramChannel(ctx context.Context, channel *domain.TelegramChannel) error

	// ListTelegramChannels returns the channels of a user, newest first.
	ListTelegramChannels(ctx context.Context, userID string) ([]*domain.TelegramChannel, error)

	// GetTelegramChannel returns a channel owned by userID, or nil if none.
	GetTelegramChannel(ctx context.Context, userID string, id int64) (*domain.TelegramChannel, error)

	// DeleteTelegramChannel removes a channel owned by userID and reports whether it existed.
	DeleteTelegramChannel(ctx context.Context, userID string, id int64) (bool, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
