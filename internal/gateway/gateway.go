// Package gateway opens conversations and loads their full history.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"tutorchat/internal/reconciler"
	"tutorchat/pkg/interfaces"
	"tutorchat/pkg/types"
)

// MaxPageSize is the largest page the server returns
const MaxPageSize = 100

var ErrInvalidCounterpart = errors.New("counterpart user id must be positive")

// Gateway opens conversations and pages through their history
type Gateway struct {
	conversations interfaces.ConversationSource
	messages      interfaces.MessageSource
	pageSize      int
}

// New clamps pageSize to 1..MaxPageSize
func New(conversations interfaces.ConversationSource, messages interfaces.MessageSource, pageSize int) *Gateway {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return &Gateway{conversations: conversations, messages: messages, pageSize: pageSize}
}

// Open returns the conversation with counterpartUserID, creating it server-side
// on first use. Nothing is cached here.
func (g *Gateway) Open(ctx context.Context, counterpartUserID int64) (*types.Conversation, error) {
	if counterpartUserID <= 0 {
		return nil, ErrInvalidCounterpart
	}
	conversation, err := g.conversations.OpenConversation(ctx, counterpartUserID)
	if err != nil {
		return nil, fmt.Errorf("open conversation with user %d: %w", counterpartUserID, err)
	}
	return conversation, nil
}

// LoadHistory reads every page and returns the normalized list
func (g *Gateway) LoadHistory(ctx context.Context, conversationID int64) ([]types.Message, error) {
	var all []types.Message
	for skip := 0; ; skip += g.pageSize {
		page, err := g.messages.ListMessages(ctx, conversationID, skip, g.pageSize)
		if err != nil {
			return nil, fmt.Errorf("load history for conversation %d: %w", conversationID, err)
		}

		before := len(all)
		all = reconciler.MergeAll(all, page)

		// A short page ends the history; a page with nothing new means the
		// server is ignoring skip and would loop forever
		if len(page) < g.pageSize || len(all) == before {
			break
		}
	}

	if all == nil {
		all = []types.Message{}
	}
	return all, nil
}
