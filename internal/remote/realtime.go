package remote

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 15 * time.Second
	readTimeout  = 120 * time.Second
	writeTimeout = 30 * time.Second
)

// AuthEvents connects to the backend's websocket feed and invokes fn for
// every pushed auth state change. The returned function closes the feed;
// once it returns, fn is never invoked again.
func (c *Supabase) AuthEvents(ctx context.Context, fn func(AuthEvent)) (func(), error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/realtime/v1/websocket?apikey=" + c.apiKey

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: err.Error()}
	}

	sub := &authSubscription{conn: conn, fn: fn, log: c.log, done: make(chan struct{})}

	// Join the auth channel before pumping events.
	join := map[string]string{"topic": "auth", "event": "phx_join"}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, &Error{Kind: KindNetwork, Message: err.Error()}
	}

	go sub.readPump()
	go sub.pingPump()

	return sub.close, nil
}

type authSubscription struct {
	conn *websocket.Conn
	fn   func(AuthEvent)
	log  *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// close tears the subscription down exactly once. The closed flag guarantees
// the callback is not invoked after close returns.
func (s *authSubscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
	s.conn.Close()
	close(s.done)
}

// deliver invokes the callback unless the subscription was closed.
func (s *authSubscription) deliver(ev AuthEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fn(ev)
}

func (s *authSubscription) readPump() {
	s.conn.SetReadLimit(1 << 16)
	s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.mu.Lock()
				closed := s.closed
				s.mu.Unlock()
				if !closed && s.log != nil {
					s.log.Warn("auth event feed closed", "err", err)
				}
			}
			return
		}

		var ev AuthEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.Type == "" {
			continue
		}
		switch ev.Type {
		case EventSignedIn, EventSignedOut, EventTokenRefreshed, EventUserUpdated:
			s.deliver(ev)
		}
	}
}

func (s *authSubscription) pingPump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
