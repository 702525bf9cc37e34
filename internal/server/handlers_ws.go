package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// TickMessage is pushed to every connected /ws/ticks client once per
// scheduler tick.
type TickMessage struct {
	Tick     int64 `json:"tick"`
	Inflight int64 `json:"inflight"`
	Done     int64 `json:"done"`
}

// tickHub fans out TickMessage values to connected websocket clients, each
// served by its own buffered outbox so one slow reader can't block the
// others.
type tickHub struct {
	mu      sync.Mutex
	clients map[chan TickMessage]struct{}
}

func newTickHub() *tickHub {
	return &tickHub{clients: make(map[chan TickMessage]struct{})}
}

func (h *tickHub) register() chan TickMessage {
	ch := make(chan TickMessage, 8)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *tickHub) unregister(ch chan TickMessage) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *tickHub) broadcast(msg TickMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
			// slow client, drop this tick rather than block the broadcaster
		}
	}
}

const wsWriteTimeout = 10 * time.Second

// handleTicksWebSocket serves GET /ws/ticks: after the upgrade, every
// scheduler tick broadcast via Server.BroadcastTick is forwarded as a JSON
// text message until the client disconnects.
func (s *Server) handleTicksWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to accept websocket upgrade")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := conn.CloseRead(r.Context())

	ch := s.hub.register()
	defer s.hub.unregister(ch)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := writeTick(ctx, conn, msg); err != nil {
				s.log.Debug().Err(err).Msg("tick websocket write failed")
				return
			}
		}
	}
}

func writeTick(ctx context.Context, conn *websocket.Conn, msg TickMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
