// Package browser drives a headless browser session and reports the WebSocket
// connections its pages open.
package browser

import (
	"context"
	"sync"
)

// EventKind tags a connection notification.
type EventKind int

const (
	SocketOpened EventKind = iota
	SocketFrame
	SocketClosed
	// Marker carries no connection; see Session.Mark.
	Marker
)

func (k EventKind) String() string {
	switch k {
	case SocketOpened:
		return "opened"
	case SocketFrame:
		return "frame"
	case SocketClosed:
		return "closed"
	case Marker:
		return "marker"
	default:
		return "unknown"
	}
}

// Event is a WebSocket lifecycle notification observed in the page.
// URL is only set on SocketOpened; later events refer to the connection by ID.
// For Marker events ID holds the token passed to Mark.
type Event struct {
	Kind EventKind
	ID   string
	URL  string
}

// Session is a browser tab that can be navigated and watched.
type Session interface {
	// Navigate loads url and waits for network activity to settle.
	Navigate(ctx context.Context, url string) error
	// Subscribe returns a channel of connection events and a func that ends the subscription.
	Subscribe() (<-chan Event, func())
	// WaitVisible blocks until an element matching selector is visible.
	WaitVisible(ctx context.Context, selector string) error
	// Mark publishes a Marker event carrying token. Every subscriber receives
	// it after all events published before the call.
	Mark(token string)
	// HTML returns the rendered document.
	HTML(ctx context.Context) (string, error)
	// Close ends the session.
	Close() error
}

// Launcher starts a new session.
type Launcher func(ctx context.Context) (Session, error)

// Hub fans events out to subscribers. Publish never blocks: each subscriber
// has its own unbounded queue drained by a pump goroutine.
type Hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// Publish delivers ev to every current subscriber.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		s.push(ev)
	}
}

// Subscribe registers a subscriber. The returned func unregisters it and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	s := &subscriber{
		signal: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[*subscriber]struct{})
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go s.pump()

	return s.out, func() {
		h.mu.Lock()
		delete(h.subs, s)
		h.mu.Unlock()
		s.stop()
	}
}

// CloseAll ends every subscription.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		s.stop()
		delete(h.subs, s)
	}
}

type subscriber struct {
	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
	out    chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
