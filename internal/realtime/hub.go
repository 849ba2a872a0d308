package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Frame is the JSON envelope in both directions.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InboundHandler receives client frames. A returned error is echoed to the
// sender as an error frame.
type InboundHandler interface {
	HandleFrame(ctx context.Context, userID string, f Frame) error
}

type InboundHandlerFunc func(ctx context.Context, userID string, f Frame) error

func (fn InboundHandlerFunc) HandleFrame(ctx context.Context, userID string, f Frame) error {
	return fn(ctx, userID, f)
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func wsLog() *zap.Logger { return obslog.Named("ws") }

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub is the websocket Transport: users may hold several sockets, rooms hold
// user ids.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	rooms   map[string]map[string]struct{}

	handler      InboundHandler
	errorCode    func(err error) string
	sendBuffer   int
	writeTimeout time.Duration
	pingInterval time.Duration
	origins      []string
}

type HubOption func(*Hub)

func WithInboundHandler(h InboundHandler) HubOption { return func(hub *Hub) { hub.handler = h } }

// WithErrorCode maps handler errors to the code sent in error frames.
func WithErrorCode(fn func(err error) string) HubOption { return func(h *Hub) { h.errorCode = fn } }

func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = append(h.origins, patterns...) }
}

func WithPingInterval(d time.Duration) HubOption { return func(h *Hub) { h.pingInterval = d } }

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:      make(map[string]map[*client]struct{}),
		rooms:        make(map[string]map[string]struct{}),
		sendBuffer:   32,
		writeTimeout: 5 * time.Second,
		pingInterval: 30 * time.Second,
		errorCode:    func(error) string { return "error" },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) JoinRoom(roomID, userID string) {
	h.mu.Lock()
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[roomID] = members
	}
	members[userID] = struct{}{}
	h.mu.Unlock()
}

// CloseRoom forgets a room once its game is over.
func (h *Hub) CloseRoom(roomID string) {
	h.mu.Lock()
	delete(h.rooms, roomID)
	h.mu.Unlock()
}

func (h *Hub) EmitToRoom(roomID, event string, payload any, exceptUserID string) {
	data, ok := encodeFrame(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID := range h.rooms[roomID] {
		if userID == exceptUserID {
			continue
		}
		h.deliverLocked(userID, data)
	}
}

func (h *Hub) EmitToUser(userID, event string, payload any) {
	data, ok := encodeFrame(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	h.deliverLocked(userID, data)
	h.mu.RUnlock()
}

// Connected reports whether userID has at least one open socket.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) deliverLocked(userID string, data []byte) {
	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
			wsLog().Warn("ws_send_buffer_full", zap.String("user_id", userID))
		}
	}
}

func encodeFrame(event string, payload any) ([]byte, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		wsLog().Error("ws_encode_error", zap.String("event", event), zap.Error(err))
		return nil, false
	}
	data, err := json.Marshal(Frame{Event: event, Payload: raw})
	if err != nil {
		wsLog().Error("ws_encode_error", zap.String("event", event), zap.Error(err))
		return nil, false
	}
	return data, true
}

// ServeHTTP upgrades the request. The player id comes from the session layer
// in X-Player-Id, or the playerId query parameter for browsers.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get("X-Player-Id"))
	if userID == "" {
		userID = strings.TrimSpace(r.URL.Query().Get("playerId"))
	}
	if userID == "" {
		http.Error(w, "missing player id", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		wsLog().Warn("ws_accept_error", zap.String("user_id", userID), zap.Error(err))
		return
	}
	c := &client{userID: userID, conn: conn, send: make(chan []byte, h.sendBuffer)}
	h.register(c)
	wsLog().Info("ws_connect", zap.String("user_id", userID))

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		h.unregister(c)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		wsLog().Info("ws_disconnect", zap.String("user_id", userID))
	}()
	go h.writeLoop(ctx, c)
	h.readLoop(ctx, c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// unregister forgets the socket. Once a user's last socket is gone they leave
// every room; a reconnecting client sends join again and resyncs from the FEN.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) > 0 {
		return
	}
	delete(h.clients, c.userID)
	for roomID, members := range h.rooms {
		delete(members, c.userID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		var f Frame
		if err := wsjson.Read(ctx, c.conn, &f); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				wsLog().Debug("ws_read_error", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		if h.handler == nil {
			continue
		}
		if err := h.handler.HandleFrame(ctx, c.userID, f); err != nil {
			h.EmitToUser(c.userID, EventError, ErrorPayload{Code: h.errorCode(err), Message: err.Error()})
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				wsLog().Debug("ws_write_error", zap.String("user_id", c.userID), zap.Error(err))
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
