// Package hub fans stored messages out to every live channel of their conversation.
package hub

import (
	"context"
	"log"
	"sync"

	"tutorchat/internal/websocket"
	"tutorchat/pkg/types"
)

// DefaultQueueSize bounds messages waiting for delivery
const DefaultQueueSize = 1000

// Hub coordinates live delivery
// ARCHITECTURAL DISCOVERY: Central coordination point for all message flow
// maintains clean separation between WebSocket handling and persistence
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channel absorbs bursts without blocking request handlers
	messageChannel  chan *types.Message
	shutdownChannel chan struct{}
	stopped         chan struct{}

	registry *websocket.Registry

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running   bool
	delivered int64
	mu        sync.RWMutex
}

func NewHub(registry *websocket.Registry, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		messageChannel:  make(chan *types.Message, queueSize),
		shutdownChannel: make(chan struct{}),
		stopped:         make(chan struct{}),
		registry:        registry,
	}
}

// Start begins hub processing. A stopped hub cannot be restarted.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	select {
	case <-h.shutdownChannel:
		h.mu.Unlock()
		return ErrHubStopped
	default:
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting message hub...")

	// ARCHITECTURAL DISCOVERY: Single goroutine coordination prevents race conditions
	go h.run(ctx)
	return nil
}

// Stop signals the loop and waits for it to exit
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	h.mu.Unlock()

	log.Println("Stopping message hub...")
	<-h.stopped
	return nil
}

// Publish queues a persisted message for delivery
// TECHNICAL DISCOVERY: Non-blocking send prevents a slow consumer from stalling writers
func (h *Hub) Publish(message *types.Message) error {
	if message == nil || message.ConversationID <= 0 {
		return ErrInvalidMessage
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	select {
	case h.messageChannel <- message:
		return nil
	default:
		return ErrMessageChannelFull
	}
}

// Delivered reports how many frames were written successfully
func (h *Hub) Delivered() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.delivered
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.stopped)
	defer log.Println("Hub processing stopped")

	for {
		select {
		case message := <-h.messageChannel:
			h.deliver(message)

		case <-h.shutdownChannel:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			h.mu.Lock()
			h.running = false
			select {
			case <-h.shutdownChannel:
			default:
				close(h.shutdownChannel)
			}
			h.mu.Unlock()
			return
		}
	}
}

// deliver writes message to every connection bound to its conversation,
// the sender's own included
func (h *Hub) deliver(message *types.Message) {
	connections := h.registry.GetConversationConnections(message.ConversationID)

	var ok int64
	for _, conn := range connections {
		// FUNCTIONAL DISCOVERY: Continue delivery to other recipients even if one fails
		if err := conn.WriteJSON(message); err != nil {
			log.Printf("Failed to deliver message %d to connection %s: %v", message.ID, conn.ID(), err)
			continue
		}
		ok++
	}

	h.mu.Lock()
	h.delivered += ok
	h.mu.Unlock()
}
