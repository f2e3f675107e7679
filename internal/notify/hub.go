package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gavel/internal/model"
	"gavel/internal/observability"
)

const (
	subscriberBuffer = 64
	pingInterval     = 30 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub keeps one room of websocket subscribers per product and pushes every
// emitted event to the room of its product.
type Hub struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	rooms  map[uuid.UUID]map[int]chan model.Event
	nextID int
	count  int
	closed bool
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		logger:  logger,
		metrics: metrics,
		rooms:   make(map[uuid.UUID]map[int]chan model.Event),
	}
}

// Subscribe joins the room of productID. The returned channel is closed when
// cancel is called, when the hub closes, or when the subscriber falls behind.
func (h *Hub) Subscribe(productID uuid.UUID) (<-chan model.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan model.Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	room, ok := h.rooms[productID]
	if !ok {
		room = make(map[int]chan model.Event)
		h.rooms[productID] = room
	}
	room[id] = ch
	h.count++
	h.metrics.SetWSClients(h.count)

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.drop(productID, id)
	}
}

// drop removes one subscriber. Callers hold h.mu.
func (h *Hub) drop(productID uuid.UUID, id int) {
	room, ok := h.rooms[productID]
	if !ok {
		return
	}
	ch, ok := room[id]
	if !ok {
		return
	}
	delete(room, id)
	close(ch)
	if len(room) == 0 {
		delete(h.rooms, productID)
	}
	h.count--
	h.metrics.SetWSClients(h.count)
}

// Emit broadcasts ev to the product's room without blocking. Subscribers
// whose buffer is full are disconnected.
func (h *Hub) Emit(_ context.Context, ev model.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.rooms[ev.ProductID] {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("Hub: dropping slow subscriber", "product", ev.ProductID, "subscriber", id)
			h.drop(ev.ProductID, id)
		}
	}
	return nil
}

// Subscribers returns the number of subscribers in the product's room.
func (h *Hub) Subscribers(productID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[productID])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for productID, room := range h.rooms {
		for id := range room {
			h.drop(productID, id)
		}
	}
	h.closed = true
}

// ServeProduct upgrades the request and streams the product's events to the
// client as JSON text frames until either side goes away.
func (h *Hub) ServeProduct(w http.ResponseWriter, r *http.Request, productID uuid.UUID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Hub: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := h.Subscribe(productID)
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	// The read loop only exists to process control frames and notice the
	// client leaving.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"),
					time.Now().Add(writeTimeout))
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("Hub: failed to encode event", "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
