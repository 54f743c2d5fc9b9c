package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"tutorchat/pkg/interfaces"
	"tutorchat/pkg/types"
)

// ConversationAuthorizer is the slice of the database the handler needs to admit a connection
type ConversationAuthorizer interface {
	UserByToken(ctx context.Context, token string) (*types.UserMe, error)
	GetConversation(ctx context.Context, conversationID, userID int64) (*types.Conversation, error)
}

// Handler upgrades /messages/ws/chat/{conversation_id} requests and pumps inbound frames to the router
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic
// integrates with Registry for connection management and interfaces for external dependencies
type Handler struct {
	registry   *Registry
	authorizer ConversationAuthorizer
	router     interfaces.MessageRouter
	settings   Settings
	upgrader   websocket.Upgrader
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, authorizer ConversationAuthorizer, router interfaces.MessageRouter, settings Settings) *Handler {
	return &Handler{
		registry:   registry,
		authorizer: authorizer,
		router:     router,
		settings:   settings,
		upgrader: websocket.Upgrader{
			// FUNCTIONAL DISCOVERY: Allow all origins; the devserver is a local reference backend
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: settings.HandshakeTimeout,
		},
	}
}

// HandleWebSocket validates (parameters -> token -> membership) before upgrading,
// so rejected requests get a plain HTTP status instead of a socket
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID, err := strconv.ParseInt(r.PathValue("conversation_id"), 10, 64)
	if err != nil || conversationID <= 0 {
		http.Error(w, "Invalid conversation id", http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusUnauthorized)
		return
	}

	user, err := h.authorizer.UserByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, interfaces.ErrUnauthorized) {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
		} else {
			http.Error(w, "Authentication failed", http.StatusInternalServerError)
		}
		return
	}

	if _, err := h.authorizer.GetConversation(r.Context(), conversationID, user.ID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			http.Error(w, "Conversation not found or you are not a participant", http.StatusNotFound)
		} else {
			http.Error(w, "Conversation lookup failed", http.StatusInternalServerError)
		}
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnectionWithSettings(conn, h.settings)
	if err := wsConn.SetCredentials(user.ID, conversationID); err != nil {
		log.Printf("Failed to set credentials: %v", err)
		_ = wsConn.Close()
		return
	}

	if err := h.registry.RegisterConnection(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}

	log.Printf("Connection registered: user=%d conversation=%d id=%s", user.ID, conversationID, wsConn.ID())

	go h.handleConnection(wsConn)
}

// handleConnection owns the read side of one connection until it closes
// ARCHITECTURAL DISCOVERY: Single goroutine per connection handles both heartbeat
// and message reading to prevent goroutine proliferation and resource leaks
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		log.Printf("Connection closed: user=%d conversation=%d id=%s", conn.GetUserID(), conn.GetConversationID(), conn.ID())
	}()

	if h.settings.ReadTimeout > 0 {
		if err := conn.conn.SetReadDeadline(time.Now().Add(h.settings.ReadTimeout)); err != nil {
			log.Printf("Failed to set read deadline: %v", err)
			return
		}
		conn.conn.SetPongHandler(func(string) error {
			return conn.conn.SetReadDeadline(time.Now().Add(h.settings.ReadTimeout))
		})
	}

	if h.settings.PingInterval > 0 {
		go h.pingLoop(conn)
	}

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		if h.settings.ReadTimeout > 0 {
			_ = conn.conn.SetReadDeadline(time.Now().Add(h.settings.ReadTimeout))
		}

		h.handleFrame(conn, data)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.settings.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.settings.WriteTimeout)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// handleFrame turns one inbound {content} frame into a routed message.
// Rejections are answered with an {error} frame on the same connection only.
func (h *Handler) handleFrame(conn *Connection, data []byte) {
	var frame types.OutboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.reject(conn, "invalid frame: expected {\"content\": string}")
		return
	}

	message := &types.Message{
		ConversationID: conn.GetConversationID(),
		SenderID:       conn.GetUserID(),
		Content:        frame.Content,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.router.RouteMessage(ctx, message); err != nil {
		log.Printf("Rejected frame from user=%d conversation=%d: %v", message.SenderID, message.ConversationID, err)
		h.reject(conn, err.Error())
	}
}

func (h *Handler) reject(conn *Connection, reason string) {
	if err := conn.WriteJSON(types.ErrorFrame{Error: reason}); err != nil {
		log.Printf("Failed to send error frame: %v", err)
	}
}
