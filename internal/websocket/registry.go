package websocket

import (
	"sync"
)

// Registry tracks live connections per conversation with thread-safe operations
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic
// maintains clean separation between connection tracking and connection operations
type Registry struct {
	mu            sync.RWMutex                     // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	connections   map[string]*Connection           // connection id -> Connection
	conversations map[int64]map[string]*Connection // conversationID -> connection id -> Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections:   make(map[string]*Connection),
		conversations: make(map[int64]map[string]*Connection),
	}
}

// RegisterConnection adds an authenticated connection to its conversation.
// A user may hold several connections to the same conversation (one per device).
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	conversationID := conn.GetConversationID()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.ID()] = conn
	if r.conversations[conversationID] == nil {
		r.conversations[conversationID] = make(map[string]*Connection)
	}
	r.conversations[conversationID][conn.ID()] = conn

	return nil
}

// UnregisterConnection is idempotent
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; !exists {
		return
	}
	delete(r.connections, conn.ID())

	conversationID := conn.GetConversationID()
	if members, exists := r.conversations[conversationID]; exists {
		delete(members, conn.ID())
		// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
		if len(members) == 0 {
			delete(r.conversations, conversationID)
		}
	}
}

// GetConversationConnections returns every connection bound to a conversation for broadcasting
func (r *Registry) GetConversationConnections(conversationID int64) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.conversations[conversationID]
	connections := make([]*Connection, 0, len(members))
	for _, conn := range members {
		connections = append(connections, conn)
	}
	return connections
}

// GetUserConnections returns all of a user's connections across conversations
func (r *Registry) GetUserConnections(userID int64) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var connections []*Connection
	for _, conn := range r.connections {
		if conn.GetUserID() == userID {
			connections = append(connections, conn)
		}
	}
	return connections
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections":    len(r.connections),
		"active_conversations": len(r.conversations),
	}
}

// CloseAll closes every tracked connection; their read loops unregister them
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	connections := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		connections = append(connections, conn)
	}
	r.mu.RUnlock()

	for _, conn := range connections {
		_ = conn.Close()
	}
	return len(connections)
}
