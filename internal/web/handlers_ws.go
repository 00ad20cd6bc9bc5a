package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// wsHub fans session events out to connected WebSocket clients.
type wsHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	logger  *slog.Logger

	events   chan interface{}
	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newWSHub(logger *slog.Logger) *wsHub {
	return &wsHub{
		clients: make(map[*wsClient]struct{}),
		logger:  logger,
		events:  make(chan interface{}, 256),
		done:    make(chan struct{}),
	}
}

// run delivers queued events until stop. A client that cannot keep up
// is evicted rather than allowed to back the hub up.
func (h *wsHub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case msg := <-h.events:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("ws marshal", "err", err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					delete(h.clients, c)
					close(c.send)
					h.logger.Warn("ws client evicted (too slow)")
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *wsHub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// broadcast queues an event for delivery; it never blocks the caller.
func (h *wsHub) broadcast(msg interface{}) {
	select {
	case h.events <- msg:
	default:
		h.logger.Warn("ws event queue full, dropping")
	}
}

func (h *wsHub) add(c *wsClient) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("ws client connected", "total", total)
	return true
}

func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}
	if !s.hub.add(client) {
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) wsReadPump(client *wsClient) {
	defer s.hub.remove(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.hub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		// Clients only listen; any read result other than an error is
		// discarded.
		if _, _, err := client.conn.Read(ctx); err != nil {
			return
		}
	}
}
