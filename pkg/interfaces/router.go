package interfaces

import (
	"context"

	"tutorchat/pkg/types"
)

// MessageRouter persists and fans out messages posted to a conversation
// ARCHITECTURAL DISCOVERY: Routing logic abstracted from message delivery
// enables both REST and live-channel sends to share one persist-then-deliver path
type MessageRouter interface {
	// RouteMessage persists the message (assigning its id) and delivers it to
	// every live channel bound to the message's conversation
	RouteMessage(ctx context.Context, message *types.Message) error

	// ValidateMessage checks content and sender membership before persistence
	ValidateMessage(ctx context.Context, message *types.Message) error
}
