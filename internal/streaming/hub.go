// Package streaming fans run progress out to Server-Sent Event clients.
package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/rumor-ml/commons.systems/tradesync/internal/logging"
)

// Client represents a connected SSE client
type Client struct {
	Events chan SSEEvent
}

// NewClient creates a new SSE client
func NewClient() *Client {
	return &Client{
		Events: make(chan SSEEvent, 10),
	}
}

func critical(t EventType) bool {
	return t == EventTypeComplete || t == EventTypeError
}

// RunBroadcaster broadcasts events to multiple clients for a single run.
// It stops itself after delivering a complete or error event.
type RunBroadcaster struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	events   chan SSEEvent
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  bool
}

// NewRunBroadcaster creates a new run broadcaster
func NewRunBroadcaster(ctx context.Context) *RunBroadcaster {
	ctx, cancel := context.WithCancel(ctx)
	return &RunBroadcaster{
		clients: make(map[*Client]bool),
		events:  make(chan SSEEvent, 100),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a client to the broadcaster
func (b *RunBroadcaster) Register(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
	logging.L().Debug("stream client registered", "clients", len(b.clients))
}

// Unregister removes a client from the broadcaster
func (b *RunBroadcaster) Unregister(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		// Stop() already closed every client channel
		if !b.stopped {
			close(client.Events)
		}
		logging.L().Debug("stream client unregistered", "clients", len(b.clients))
	}
}

// ClientCount returns the number of connected clients
func (b *RunBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stopped reports whether the broadcaster has shut down.
func (b *RunBroadcaster) Stopped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopped
}

// Broadcast queues an event for all registered clients. Progress events are
// dropped when the queue is full; complete and error events wait briefly.
func (b *RunBroadcaster) Broadcast(event SSEEvent) {
	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	if critical(event.Type) {
		select {
		case b.events <- event:
		case <-b.ctx.Done():
		case <-time.After(100 * time.Millisecond):
			logging.L().Error("failed to queue terminal event, clients may hang",
				"type", string(event.Type),
				"capacity", cap(b.events),
			)
		}
		return
	}

	select {
	case b.events <- event:
	case <-b.ctx.Done():
	default:
		logging.L().Warn("event queue full, dropping event", "type", string(event.Type))
	}
}

// Stop stops the broadcaster and closes every client channel.
func (b *RunBroadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		for client := range b.clients {
			close(client.Events)
			delete(b.clients, client)
		}
		b.mu.Unlock()
		b.cancel()
	})
}

// Start starts broadcasting events to all clients
func (b *RunBroadcaster) Start() {
	go func() {
		defer b.Stop()
		for {
			select {
			case <-b.ctx.Done():
				return
			case event := <-b.events:
				b.broadcastToClients(event)
				if critical(event.Type) {
					// let clients drain before their channels close
					time.Sleep(100 * time.Millisecond)
					return
				}
			}
		}
	}()
}

func (b *RunBroadcaster) broadcastToClients(event SSEEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		if critical(event.Type) {
			select {
			case client.Events <- event:
			case <-time.After(50 * time.Millisecond):
				logging.L().Error("failed to deliver terminal event to client", "type", string(event.Type))
			}
			continue
		}

		select {
		case client.Events <- event:
		default:
			logging.L().Warn("client channel full, skipping event", "type", string(event.Type))
		}
	}
}

// StreamHub manages broadcasters for multiple runs
type StreamHub struct {
	mu           sync.RWMutex
	broadcasters map[string]*RunBroadcaster
}

// NewStreamHub creates a new stream hub
func NewStreamHub() *StreamHub {
	return &StreamHub{
		broadcasters: make(map[string]*RunBroadcaster),
	}
}

// Register registers a client for a run and returns the client. A run whose
// broadcaster already finished gets a fresh one.
func (h *StreamHub) Register(ctx context.Context, runID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	client := NewClient()

	broadcaster, exists := h.broadcasters[runID]
	if !exists || broadcaster.Stopped() {
		broadcaster = NewRunBroadcaster(ctx)
		h.broadcasters[runID] = broadcaster
		broadcaster.Start()
		logging.L().Debug("created broadcaster", "run_id", runID)
	}

	broadcaster.Register(client)
	return client
}

// Unregister removes a client from a run. The last client out stops the
// broadcaster.
func (h *StreamHub) Unregister(runID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	broadcaster, exists := h.broadcasters[runID]
	if !exists {
		return
	}

	broadcaster.Unregister(client)
	if broadcaster.ClientCount() == 0 {
		broadcaster.Stop()
		delete(h.broadcasters, runID)
		logging.L().Debug("broadcaster cleaned up", "run_id", runID)
	}
}

// Broadcast sends an event to all clients of a run. Runs nobody is watching
// are ignored.
func (h *StreamHub) Broadcast(runID string, event SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	broadcaster, exists := h.broadcasters[runID]
	if !exists {
		logging.L().Debug("no stream clients for run", "run_id", runID, "type", string(event.Type))
		return
	}

	broadcaster.Broadcast(event)
}

// IsRunning checks if a run broadcaster exists
func (h *StreamHub) IsRunning(runID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.broadcasters[runID]
	return exists
}
