// Package wsconn opens direct WebSocket connections to realtime endpoints.
// A reader goroutine feeds received frames into a bounded queue that the
// consumer drains with Recv, which reports tagged outcomes instead of errors
// for the normal end of a connection.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"streamgrab/internal/httputil"
)

// Kind tags the outcome of a Recv call.
type Kind int

const (
	Frame  Kind = iota // a message was received
	Closed             // the peer closed the connection
	Error              // the connection failed or the wait was abandoned
)

func (k Kind) String() string {
	switch k {
	case Frame:
		return "frame"
	case Closed:
		return "closed"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one outcome delivered by Recv.
type Event struct {
	Kind Kind
	Data []byte // Frame only
	Code int    // close code, Closed only
	Err  error  // Error only
}

// Conn is a direct connection whose frames are consumed in arrival order.
type Conn interface {
	// Recv blocks until the next frame, a close, a failure, or ctx is done.
	Recv(ctx context.Context) Event
	// Close releases the connection. Safe to call more than once.
	Close() error
}

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultQueueSize        = 256
	closeGrace              = time.Second
)

// Dialer opens Conns.
type Dialer struct {
	HandshakeTimeout time.Duration
	QueueSize        int // frames buffered between reader and consumer
}

// Dial connects to a ws:// or wss:// endpoint. A non-empty origin, usually
// the origin of the page that opened the endpoint, is sent as the Origin header.
func (d *Dialer) Dial(ctx context.Context, rawURL, origin string) (Conn, error) {
	if err := httputil.ValidateSocketURL(rawURL); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	queue := d.QueueSize
	if queue <= 0 {
		queue = defaultQueueSize
	}

	wd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
		TLSClientConfig:  httputil.TLSConfig(),
	}

	ws, resp, err := wd.DialContext(ctx, rawURL, httputil.Headers(origin))
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing endpoint: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing endpoint: %w", err)
	}

	s := &socket{
		ws:     ws,
		events: make(chan Event, queue),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type socket struct {
	ws        *websocket.Conn
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func (s *socket) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			s.push(terminal(err))
			return
		}
		if !s.push(Event{Kind: Frame, Data: data}) {
			return
		}
	}
}

// push blocks while the queue is full unless the consumer has closed the socket.
func (s *socket) push(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func terminal(err error) Event {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return Event{Kind: Closed, Code: ce.Code}
	}
	return Event{Kind: Error, Err: err}
}

func (s *socket) Recv(ctx context.Context) Event {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return Event{Kind: Closed}
		}
		return ev
	case <-ctx.Done():
		return Event{Kind: Error, Err: ctx.Err()}
	}
}

func (s *socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = s.ws.Close()
	})
	return err
}
