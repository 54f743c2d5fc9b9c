package interfaces

import (
	"context"

	"tutorchat/pkg/types"
)

// The client-side collaborator contract is split per consumer so each
// component depends only on the calls it makes.

// IdentitySource reads the signed-in user (GET /users/me)
type IdentitySource interface {
	Me(ctx context.Context) (*types.UserMe, error)
}

// MatchSource serves the student sidebar
type MatchSource interface {
	// ListMatches returns the saved matched-tutor set (GET /matches/me)
	ListMatches(ctx context.Context) ([]types.Match, error)

	// RefreshMatches recomputes similarity scores (POST /matches/me/refresh)
	RefreshMatches(ctx context.Context) ([]types.MatchScore, error)
}

// ConversationSource serves the tutor sidebar and the create-or-get call
type ConversationSource interface {
	ListConversations(ctx context.Context) ([]types.ConversationRef, error)
	OpenConversation(ctx context.Context, otherUserID int64) (*types.Conversation, error)
}

// MessageSource is the request/response message path
type MessageSource interface {
	// ListMessages returns one page of a conversation's history, oldest first
	ListMessages(ctx context.Context, conversationID int64, skip, limit int) ([]types.Message, error)

	// SendMessage posts a text message and returns the server's authoritative copy
	SendMessage(ctx context.Context, conversationID int64, content string) (*types.Message, error)
}

// AttachmentSource uploads files and builds authenticated download references
type AttachmentSource interface {
	UploadAttachment(ctx context.Context, conversationID int64, content string, file types.FileUpload) (*types.Message, error)
	AttachmentDownloadURL(attachmentID int64) (string, error)
}

// AvailabilitySource reads another user's posted time slots
type AvailabilitySource interface {
	ListAvailability(ctx context.Context, userID int64) ([]types.AvailabilitySlot, error)
}

// NotificationSource reads the signed-in user's notification rows
type NotificationSource interface {
	ListNotifications(ctx context.Context, limit int) ([]types.Notification, error)
}

// CredentialHolder carries the bearer token used for REST calls
type CredentialHolder interface {
	SetToken(token string)
	Token() string
}

// Backend is everything the session needs from the remote service
// ARCHITECTURAL DISCOVERY: Single composite interface keeps wiring simple while
// each component still accepts the narrow interface it uses
type Backend interface {
	IdentitySource
	MatchSource
	ConversationSource
	MessageSource
	AttachmentSource
	AvailabilitySource
	NotificationSource
	CredentialHolder
}
