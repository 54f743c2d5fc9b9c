// Package channel implements the per-conversation push connection.
//
// A Channel moves Idle -> Connecting -> Open -> Closed exactly once; there is no
// reconnect. Inbound frames are decoded into messages and delivered on Events.
// Server error frames and malformed payloads are logged and dropped.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"

	"tutorchat/pkg/interfaces"
	"tutorchat/pkg/types"
)

// State of a Channel
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventType tags an Event
type EventType int

const (
	EventOpen EventType = iota
	EventMessage
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is emitted on Channel.Events
type Event struct {
	Type           EventType
	ConversationID int64
	Message        *types.Message // EventMessage only
	Err            error          // EventClosed only; nil after an explicit Close
}

// DefaultBufferSize is used when New is given a non-positive buffer
const DefaultBufferSize = 100

// Channel is one live connection bound to one conversation
type Channel struct {
	dialer         interfaces.Dialer
	address        string
	conversationID int64
	hasCredential  bool

	mu     sync.Mutex
	state  State
	conn   interfaces.Conn
	cancel context.CancelFunc

	// emitMu serializes deliveries so none can follow the Closed transition
	emitMu  sync.Mutex
	stopped bool

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Address builds {wsBase}/messages/ws/chat/{conversationID}?token={token}
func Address(wsBase string, conversationID int64, token string) (string, error) {
	base, err := url.Parse(strings.TrimRight(wsBase, "/"))
	if err != nil || (base.Scheme != "ws" && base.Scheme != "wss") || base.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, wsBase)
	}
	return fmt.Sprintf("%s/messages/ws/chat/%d?token=%s", base.String(), conversationID, url.QueryEscape(token)), nil
}

// New creates an Idle channel. An empty token is accepted here and rejected by Start.
func New(dialer interfaces.Dialer, wsBase string, conversationID int64, token string, bufferSize int) (*Channel, error) {
	address, err := Address(wsBase, conversationID, token)
	if err != nil {
		return nil, err
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Channel{
		dialer:         dialer,
		address:        address,
		conversationID: conversationID,
		hasCredential:  token != "",
		events:         make(chan Event, bufferSize),
		done:           make(chan struct{}),
	}, nil
}

// ConversationID is the conversation this channel is bound to
func (c *Channel) ConversationID() int64 {
	return c.conversationID
}

// State returns the current lifecycle state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events delivers EventOpen, EventMessage and EventClosed in order.
// It is never closed; use Done to observe termination.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Done is closed by Close, or after a transport failure once EventClosed is buffered
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Start begins the handshake in the background and returns immediately.
// Without a credential the channel stays Idle and ErrNoCredential is returned.
func (c *Channel) Start(ctx context.Context) error {
	if !c.hasCredential {
		return ErrNoCredential
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	dialCtx, cancel := context.WithCancel(ctx)
	c.state = StateConnecting
	c.cancel = cancel
	c.mu.Unlock()

	go c.connect(dialCtx)
	return nil
}

func (c *Channel) connect(ctx context.Context) {
	conn, err := c.dialer.Dial(ctx, c.address)
	if err != nil {
		log.Printf("Live channel for conversation %d failed to open: %v", c.conversationID, err)
		c.finish(err)
		return
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Closed while the handshake was in flight
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.state = StateOpen
	c.conn = conn
	c.mu.Unlock()

	c.emit(Event{Type: EventOpen, ConversationID: c.conversationID})
	c.readLoop(conn)
}

func (c *Channel) readLoop(conn interfaces.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}

		message, err := types.DecodeFrame(data)
		switch {
		case errors.Is(err, types.ErrUnexpectedErrFrame):
			log.Printf("Live channel for conversation %d: server rejected frame: %v", c.conversationID, err)
			continue
		case err != nil:
			log.Printf("Live channel for conversation %d: dropping frame: %v", c.conversationID, err)
			continue
		}

		if message.ConversationID == 0 {
			message.ConversationID = c.conversationID
		} else if message.ConversationID != c.conversationID {
			log.Printf("Live channel for conversation %d: dropping message %d for conversation %d",
				c.conversationID, message.ID, message.ConversationID)
			continue
		}

		c.emit(Event{Type: EventMessage, ConversationID: c.conversationID, Message: message})
	}
}

// Send writes one {content} frame. There is no buffering: a non-Open channel
// returns ErrNotOpen and the caller decides how to deliver instead.
func (c *Channel) Send(content string) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrNotOpen
	}
	conn := c.conn
	c.mu.Unlock()

	if err := conn.WriteJSON(types.OutboundFrame{Content: content}); err != nil {
		return fmt.Errorf("live channel send: %w", err)
	}
	return nil
}

// Close moves the channel to Closed synchronously. Idempotent.
// Events emitted after Close are dropped.
func (c *Channel) Close() error {
	// Unblock an emitter waiting on a full buffer, then shut emits off
	c.closeDone()
	c.stopEmits()

	c.mu.Lock()
	previous := c.state
	c.state = StateClosed
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if previous == StateClosed {
		return nil
	}

	if cancel != nil {
		cancel()
	}

	var err error
	if conn != nil {
		err = conn.Close()
	}

	select {
	case c.events <- Event{Type: EventClosed, ConversationID: c.conversationID}:
	default:
	}

	return err
}

// finish handles a transport-side termination
func (c *Channel) finish(cause error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}

	c.stopEmits()
	select {
	case c.events <- Event{Type: EventClosed, ConversationID: c.conversationID, Err: cause}:
	case <-c.done:
	}
	c.closeDone()
}

// emit delivers an Open or Message event unless emits were stopped
func (c *Channel) emit(ev Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	if c.stopped {
		return
	}

	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Channel) stopEmits() {
	c.emitMu.Lock()
	c.stopped = true
	c.emitMu.Unlock()
}

func (c *Channel) closeDone() {
	c.closeOnce.Do(func() { close(c.done) })
}
