// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/nrudakov/tellerbot/internal/domain"
)

// Repository defines the interface for persisting users and conversations.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetConversation retrieves a persisted conversation snapshot.
	// Returns (nil, nil) when no snapshot exists.
	GetConversation(ctx context.Context, userID, sessionID string) (*domain.Conversation, error)

	// UpsertConversation creates or updates a conversation snapshot.
	UpsertConversation(ctx context.Context, conv *domain.Conversation) error

	// DeleteConversation removes a conversation snapshot.
	DeleteConversation(ctx context.Context, userID, sessionID string) error

	// CleanupExpiredConversations removes conversations idle longer than ttl.
	CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
