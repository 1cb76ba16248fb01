// Package gateway terminates the client-facing streaming connections. Each
// WebSocket session accepts prompt messages and relays the broker's token
// stream back, one exchange at a time.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/neuralripper/neuralripper/internal/broker"
)

// Submitter is the slice of the broker the gateway needs.
type Submitter interface {
	Submit(ctx context.Context, model, prompt string) (<-chan broker.Event, error)
}

// promptMessage is the inbound request frame.
type promptMessage struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// Handler upgrades connections and runs the streaming session loop.
type Handler struct {
	broker   Submitter
	upgrader websocket.Upgrader
}

// NewHandler creates a gateway handler over a broker.
func NewHandler(b Submitter) *Handler {
	return &Handler{
		broker: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard frontend is served from a different origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s := &session{conn: conn}

	// Cancelling this context tears down the in-flight upstream call when
	// the client goes away.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	slog.Debug("websocket session opened", "remote", conn.RemoteAddr())
	h.run(ctx, cancel, s)
	slog.Debug("websocket session closed", "remote", conn.RemoteAddr())
}

// run is the session read loop. The connection stays open across exchanges;
// only a read error (client disconnect) ends it.
func (h *Handler) run(ctx context.Context, cancel context.CancelFunc, s *session) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			cancel()
			return
		}

		var msg promptMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed frame: tell the sender, keep the connection.
			s.writeError("invalid message: expected {\"model\", \"prompt\"}")
			continue
		}

		// One in-flight generation per connection. A prompt arriving while
		// one is streaming is rejected; the running stream is unaffected.
		if !s.busy.CompareAndSwap(false, true) {
			s.writeError("a generation is already in progress on this connection")
			continue
		}

		events, err := h.broker.Submit(ctx, msg.Model, msg.Prompt)
		if err != nil {
			s.busy.Store(false)
			s.writeError(err.Error())
			continue
		}

		go s.relay(ctx, events)
	}
}

// session wraps one WebSocket connection. Writes are serialized because the
// read loop (rejections) and the relay goroutine both produce frames.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
	busy atomic.Bool
}

// relay forwards broker events to the client until the terminal event.
func (s *session) relay(ctx context.Context, events <-chan broker.Event) {
	defer s.busy.Store(false)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch {
			case ev.Err != "":
				s.writeError(ev.Err)
				return
			case ev.Done:
				s.writeJSON(map[string]bool{"done": true})
				return
			default:
				s.writeJSON(map[string]string{"token": ev.Token})
			}
		}
	}
}

func (s *session) writeError(msg string) {
	s.writeJSON(map[string]string{"error": msg})
}

func (s *session) writeJSON(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		slog.Debug("websocket write failed", "error", err)
	}
}
