package interfaces

import "context"

// Connection represents a server-side WebSocket client connection
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and business logic
type Connection interface {
	// WriteJSON sends a JSON frame to the peer (thread-safe)
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error

	// GetUserID returns the authenticated user's ID
	GetUserID() int64

	// GetConversationID returns the conversation this connection is bound to
	GetConversationID() int64

	// IsAuthenticated returns true once credentials are set
	IsAuthenticated() bool

	// SetCredentials binds the connection to a user and a conversation
	SetCredentials(userID, conversationID int64) error
}

// Conn is the client-side view of one push-delivery connection
// FUNCTIONAL DISCOVERY: ReadMessage blocks; WriteJSON and Close may be called
// from any goroutine while a read is in progress
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens a Conn for a fully-formed channel address
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}
