package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"nhooyr.io/websocket"

	"github.com/tinoosan/volload/internal/metrics"
)

// SubprotocolMsgpack selects binary msgpack frames; anything else gets JSON text frames.
const SubprotocolMsgpack = "msgpack"

const (
	subscriberBuffer = 32
	writeTimeout     = 5 * time.Second
)

// Hub fans messages out to subscribers of a load. A subscriber that does
// not keep up loses messages instead of slowing the publisher.
type Hub struct {
	log  *slog.Logger
	mu   sync.Mutex
	subs map[string]map[chan Message]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, subs: make(map[string]map[chan Message]struct{})}
}

// Notify never blocks.
func (h *Hub) Notify(_ context.Context, m Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[m.LoadID] {
		select {
		case ch <- m:
		default:
			metrics.NotificationsDropped.WithLabelValues("websocket").Inc()
		}
	}
	return nil
}

// Subscribe registers a subscriber for loadID. The returned function
// removes it; the channel is never closed by the hub.
func (h *Hub) Subscribe(loadID string) (<-chan Message, func()) {
	ch := make(chan Message, subscriberBuffer)
	h.mu.Lock()
	if h.subs[loadID] == nil {
		h.subs[loadID] = make(map[chan Message]struct{})
	}
	h.subs[loadID][ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[loadID], ch)
		if len(h.subs[loadID]) == 0 {
			delete(h.subs, loadID)
		}
	}
}

// Subscribers counts the live subscribers of loadID.
func (h *Hub) Subscribers(loadID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[loadID])
}

// ServeWS upgrades the request and streams the messages of loadID. The
// first frame is current(), read after subscribing so no later message
// is missed; the connection is closed normally after a terminal message.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, loadID string, current func() (Message, error)) {
	ch, unsubscribe := h.Subscribe(loadID)
	defer unsubscribe()

	first, err := current()
	if err != nil {
		h.log.Error("websocket snapshot", "load_id", loadID, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{SubprotocolMsgpack, "json"},
	})
	if err != nil {
		h.log.Error("websocket accept", "load_id", loadID, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	log := h.log.With("load_id", loadID, "subprotocol", conn.Subprotocol())
	// the client sends nothing; CloseRead handles its close frame
	ctx := conn.CloseRead(r.Context())

	sent := first
	if err := write(ctx, conn, first); err != nil {
		log.Debug("websocket write", "err", err)
		return
	}
	for !sent.Terminal() {
		select {
		case <-ctx.Done():
			return
		case m := <-ch:
			// queued before the snapshot was taken
			if !m.Terminal() && m.Revision < sent.Revision {
				continue
			}
			if err := write(ctx, conn, m); err != nil {
				log.Debug("websocket write", "err", err)
				return
			}
			sent = m
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, string(sent.Status))
}

func write(ctx context.Context, conn *websocket.Conn, m Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if conn.Subprotocol() == SubprotocolMsgpack {
		b, err := msgpack.Marshal(&m)
		if err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageBinary, b)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
