// Package relay pushes controller events to websocket clients as JSON.
package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"dronecontrol/pkg/drone"
)

const (
	EventReady         = "ready"
	EventTelemetry     = "telemetry"
	EventConfiguration = "configuration"
	EventEmergency     = "emergency"

	sendBuffer   = 32
	writeTimeout = 5 * time.Second
)

type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Source is the subset of *drone.Controller the hub listens to.
type Source interface {
	AddReadyStateListener(fn func(drone.ReadyState)) (remove func())
	AddTelemetryListener(fn func(drone.TelemetryState)) (remove func())
	AddConfigurationListener(fn func(*drone.DroneConfiguration)) (remove func())
	AddEmergencyListener(fn func(drone.TelemetryState)) (remove func())
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	telemetryEvery time.Duration
	lastTelemetry  atomic.Int64
	dropped        atomic.Uint64
}

type Option func(h *Hub)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger.With(slog.String("worker", "relay"))
	}
}

// WithTelemetryInterval limits how often telemetry is relayed.
func WithTelemetryInterval(d time.Duration) Option {
	return func(h *Hub) {
		h.telemetryEvery = d
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		upgrader:       websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:        make(map[*client]struct{}),
		telemetryEvery: 100 * time.Millisecond,
	}

	for _, o := range opts {
		o(h)
	}

	return h
}

// Attach relays src events until the returned function is called.
func (h *Hub) Attach(src Source) (detach func()) {
	removers := []func(){
		src.AddReadyStateListener(func(s drone.ReadyState) {
			h.Broadcast(EventReady, map[string]bool{"ready": s == drone.Ready})
		}),
		src.AddTelemetryListener(h.relayTelemetry),
		src.AddConfigurationListener(func(c *drone.DroneConfiguration) {
			h.Broadcast(EventConfiguration, c.Values())
		}),
		src.AddEmergencyListener(func(t drone.TelemetryState) {
			h.Broadcast(EventEmergency, t)
		}),
	}

	return func() {
		for _, remove := range removers {
			remove()
		}
	}
}

func (h *Hub) relayTelemetry(t drone.TelemetryState) {
	now := time.Now().UnixNano()
	last := h.lastTelemetry.Load()

	if now-last < int64(h.telemetryEvery) || !h.lastTelemetry.CompareAndSwap(last, now) {
		return
	}

	h.Broadcast(EventTelemetry, t)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", slog.Any("error", err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("client connected", slog.String("addr", r.RemoteAddr))

	go h.writer(c)
	go h.reader(c)
}

// Broadcast sends an event to every client. A client whose queue is full misses it.
func (h *Hub) Broadcast(typ string, data any) {
	msg, err := json.Marshal(Event{Type: typ, Time: time.Now(), Data: data})
	if err != nil {
		h.logger.Error("marshal event", slog.String("type", typ), slog.Any("error", err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		close(c.send)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) writer(c *client) {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Info("client write", slog.Any("error", err))
			h.remove(c)
			return
		}
	}

	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// reader only watches for the client going away; incoming messages are ignored.
func (h *Hub) reader(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("client read", slog.Any("error", err))
			}
			h.remove(c)
			return
		}
	}
}
