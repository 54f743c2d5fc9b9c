package interfaces

import (
	"context"

	"tutorchat/pkg/types"
)

// StoredAttachment is an attachment row together with where its bytes live
type StoredAttachment struct {
	types.Attachment
	ConversationID int64
	StorageKey     string
}

// DatabaseManager handles all devserver persistence operations
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables consistent transaction handling and connection management
type DatabaseManager interface {
	// User and credential operations

	// CreateUser inserts a user and returns it with its assigned id
	CreateUser(ctx context.Context, firstName, lastName string, isStudent bool) (*types.UserMe, error)

	// GetUser returns ErrNotFound for unknown ids
	GetUser(ctx context.Context, userID int64) (*types.UserMe, error)

	// IssueToken creates a new opaque bearer token for the user
	IssueToken(ctx context.Context, userID int64) (string, error)

	// UserByToken resolves a bearer token; unknown tokens return ErrUnauthorized
	UserByToken(ctx context.Context, token string) (*types.UserMe, error)

	// Match operations

	SaveMatch(ctx context.Context, studentID, tutorID int64, score float64) error
	ListMatches(ctx context.Context, studentID int64) ([]types.Match, error)

	// Conversation operations

	// GetOrCreateConversation is idempotent for an unordered user pair
	GetOrCreateConversation(ctx context.Context, userA, userB int64) (*types.Conversation, error)

	// GetConversation returns ErrNotFound unless userID participates
	GetConversation(ctx context.Context, conversationID, userID int64) (*types.Conversation, error)

	// ListConversations returns the user's conversations, most recently updated first
	ListConversations(ctx context.Context, userID int64) ([]types.ConversationRef, error)

	// Message operations

	// StoreMessage assigns ID and CreatedAt (and the attachment's) in one transaction
	StoreMessage(ctx context.Context, message *types.Message, storageKey string) error

	// ListMessages returns a page of messages ordered by ascending id
	ListMessages(ctx context.Context, conversationID int64, skip, limit int) ([]types.Message, error)

	GetAttachment(ctx context.Context, attachmentID int64) (*StoredAttachment, error)

	// Availability and notifications

	AddAvailability(ctx context.Context, slot *types.AvailabilitySlot) error
	ListAvailability(ctx context.Context, userID int64) ([]types.AvailabilitySlot, error)
	AddNotification(ctx context.Context, notification *types.Notification) error
	ListNotifications(ctx context.Context, userID int64, limit int) ([]types.Notification, error)

	// Health and lifecycle operations

	HealthCheck(ctx context.Context) error
	Close() error
}
