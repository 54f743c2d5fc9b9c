// Package router is the devserver's single persist-then-deliver path, shared
// by the REST send endpoints and the live channel handler.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"tutorchat/pkg/interfaces"
	"tutorchat/pkg/types"
)

// Publisher delivers a persisted message to live channels
type Publisher interface {
	Publish(message *types.Message) error
}

// Router implements the MessageRouter interface
// ARCHITECTURAL DISCOVERY: Pure message routing logic without connection handling
// maintains clean separation between routing decisions and delivery mechanisms
type Router struct {
	dbManager   interfaces.DatabaseManager
	publisher   Publisher
	rateLimiter *RateLimiter
}

var _ interfaces.MessageRouter = (*Router)(nil)

// NewRouter creates a router. A nil publisher persists without live delivery.
func NewRouter(dbManager interfaces.DatabaseManager, publisher Publisher, limiter *RateLimiter) *Router {
	if limiter == nil {
		limiter = NewRateLimiter(DefaultMessagesPerMinute)
	}
	return &Router{
		dbManager:   dbManager,
		publisher:   publisher,
		rateLimiter: limiter,
	}
}

// RouteMessage persists a text message and fans it out
// FUNCTIONAL DISCOVERY: Persist-then-route pattern ensures message durability before delivery
// and server-side ID assignment gives both delivery paths the same id
func (r *Router) RouteMessage(ctx context.Context, message *types.Message) error {
	if message.Attachment != nil {
		return ErrUnexpectedAttachment
	}
	return r.route(ctx, message, "")
}

// RouteAttachment persists a message whose file bytes are already stored under storageKey
func (r *Router) RouteAttachment(ctx context.Context, message *types.Message, storageKey string) error {
	if message.Attachment == nil {
		return ErrMissingAttachment
	}
	return r.route(ctx, message, storageKey)
}

func (r *Router) route(ctx context.Context, message *types.Message, storageKey string) error {
	// ARCHITECTURAL DISCOVERY: Server controls message IDs to prevent client manipulation
	message.ID = 0

	if err := r.ValidateMessage(ctx, message); err != nil {
		return err
	}

	// TECHNICAL DISCOVERY: Rate limiting applied per user before persistence to prevent spam
	if !r.rateLimiter.Allow(message.SenderID) {
		return ErrRateLimitExceeded
	}

	if err := r.dbManager.StoreMessage(ctx, message, storageKey); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	r.notifyCounterpart(ctx, message)

	if r.publisher != nil {
		// The message is stored; a delivery failure only costs the live echo
		if err := r.publisher.Publish(message); err != nil {
			log.Printf("Live delivery of message %d skipped: %v", message.ID, err)
		}
	}
	return nil
}

// ValidateMessage checks content and that the sender participates in the conversation.
// Content is trimmed in place; attachments may carry an empty caption.
func (r *Router) ValidateMessage(ctx context.Context, message *types.Message) error {
	if message.SenderID <= 0 || message.ConversationID <= 0 {
		return ErrInvalidMessage
	}

	if message.Attachment != nil {
		message.Content = strings.TrimSpace(message.Content)
		if len(message.Content) > types.MaxContentBytes {
			return types.ErrContentTooLarge
		}
	} else {
		content, err := types.ValidateContent(message.Content)
		if err != nil {
			return err
		}
		message.Content = content
	}

	if _, err := r.dbManager.GetConversation(ctx, message.ConversationID, message.SenderID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return ErrSenderNotParticipant
		}
		return err
	}
	return nil
}

// notifyCounterpart records an unread "message" notification for the other participant
func (r *Router) notifyCounterpart(ctx context.Context, message *types.Message) {
	conversation, err := r.dbManager.GetConversation(ctx, message.ConversationID, message.SenderID)
	if err != nil {
		log.Printf("Skipping notification for message %d: %v", message.ID, err)
		return
	}

	body := message.Content
	if message.Attachment != nil && body == "" {
		body = message.Attachment.FileName
	}
	if len(body) > 140 {
		body = body[:140]
	}

	notification := &types.Notification{
		UserID:    conversation.Counterpart(message.SenderID),
		EventType: "message",
		Title:     "New message",
		Body:      body,
	}
	if err := r.dbManager.AddNotification(ctx, notification); err != nil {
		log.Printf("Failed to store notification for message %d: %v", message.ID, err)
	}
}
