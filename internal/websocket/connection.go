package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"tutorchat/internal/config"
)

// Settings tunes a Connection and the handshakes that produce one
type Settings struct {
	BufferSize       int
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration // zero disables the read deadline
	PingInterval     time.Duration // server side only
	HandshakeTimeout time.Duration
}

// DefaultSettings mirrors config.DefaultConfig().WebSocket
func DefaultSettings() Settings {
	return Settings{
		BufferSize:       100,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// SettingsFromConfig maps the websocket config section onto Settings
func SettingsFromConfig(c *config.WebSocketConfig) Settings {
	if c == nil {
		return DefaultSettings()
	}
	return Settings{
		BufferSize:       c.BufferSize,
		WriteTimeout:     c.WriteTimeout,
		ReadTimeout:      c.ReadTimeout,
		PingInterval:     c.PingInterval,
		HandshakeTimeout: c.HandshakeTimeout,
	}
}

// Connection implements interfaces.Connection on the server and interfaces.Conn on the client
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	id             string
	conn           *websocket.Conn
	writeCh        chan []byte
	writeTimeout   time.Duration
	userID         int64 // Set after authentication
	conversationID int64 // Set after authentication
	authenticated  bool
	ctx            context.Context
	cancel         context.CancelFunc
	closeOnce      sync.Once
	mu             sync.RWMutex // Protect auth fields
}

// NewConnection wraps conn with DefaultSettings
func NewConnection(conn *websocket.Conn) *Connection {
	return NewConnectionWithSettings(conn, DefaultSettings())
}

// NewConnectionWithSettings wraps conn and starts its writer goroutine
func NewConnectionWithSettings(conn *websocket.Conn, settings Settings) *Connection {
	if settings.BufferSize <= 0 {
		settings.BufferSize = DefaultSettings().BufferSize
	}
	if settings.WriteTimeout <= 0 {
		settings.WriteTimeout = DefaultSettings().WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		writeCh:      make(chan []byte, settings.BufferSize),
		writeTimeout: settings.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// A failed write leaves the stream in an unknown state; the reader sees the close
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues one JSON text frame
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// ReadMessage blocks for the next text or binary frame payload.
// Control frames are handled by gorilla's handlers and never returned.
func (c *Connection) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Done is closed once the connection has been closed from either side
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close is idempotent and unblocks a pending ReadMessage
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = c.conn.Close()
		}
	})
	return err
}

// ID is unique per connection and used as the registry key
func (c *Connection) ID() string {
	return c.id
}

// SetCredentials binds the connection to an authenticated user and conversation
func (c *Connection) SetCredentials(userID, conversationID int64) error {
	if userID <= 0 || conversationID <= 0 {
		return ErrInvalidParameters
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = userID
	c.conversationID = conversationID
	c.authenticated = true

	return nil
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) GetUserID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) GetConversationID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conversationID
}
