package pubsub

import (
	"context"
)

// Subscriber receives broadcast payloads on Send. The channel carries a
// small buffer; a subscriber that stops draining it is dropped by the
// hub rather than allowed to stall everyone else.
type Subscriber struct {
	Send chan []byte
}

// Hub fans a single stream of tally payloads out to every live
// subscriber. New subscribers see only future broadcasts; there is no
// replay of past ones.
type Hub struct {
	subscribers map[*Subscriber]bool

	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan []byte
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*Subscriber]bool),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		broadcast:   make(chan []byte),
		done:        make(chan struct{}),
	}
}

// Run owns the subscriber set until ctx is cancelled, at which point
// every subscriber channel is closed.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for s := range h.subscribers {
			delete(h.subscribers, s)
			close(s.Send)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case s := <-h.register:
			h.subscribers[s] = true

		case s := <-h.unregister:
			if h.subscribers[s] {
				delete(h.subscribers, s)
				close(s.Send)
			}

		case payload := <-h.broadcast:
			for s := range h.subscribers {
				select {
				case s.Send <- payload:
				default:
					// Subscriber is not keeping up; cut it loose so the
					// rest keep receiving on time.
					delete(h.subscribers, s)
					close(s.Send)
				}
			}
		}
	}
}

// Subscribe registers a new subscriber and returns it. The returned
// Send channel is closed by the hub on Unsubscribe, on overflow, or on
// shutdown.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{Send: make(chan []byte, 1)}
	select {
	case h.register <- s:
	case <-h.done:
		close(s.Send)
	}
	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Broadcast delivers payload to every current subscriber. It is a no-op
// after the hub has shut down.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	case <-h.done:
	}
}
