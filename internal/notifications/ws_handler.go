package notifications

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fast-fab/Seller-service/internal/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	feedBuffer = 32
)

// feedConn is one live-feed socket. Only its write pump writes to conn;
// Broadcast queues on send and never waits on the network.
type feedConn struct {
	conn *websocket.Conn
	send chan []byte
}

func newFeedConn(conn *websocket.Conn) *feedConn {
	return &feedConn{conn: conn, send: make(chan []byte, feedBuffer)}
}

// writePump drains send until it is closed, pinging the peer in between.
func (c *feedConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WSHandler delivers new notifications to connected sellers over WebSocket.
type WSHandler struct {
	jwtService *auth.JWTService
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	mu      sync.RWMutex
	clients map[string]map[*feedConn]struct{} // sellerID -> connections
}

// NewWSHandler creates a WSHandler. allowedOrigins is the comma-separated
// ALLOWED_ORIGINS list; requests without an Origin header are accepted.
func NewWSHandler(jwtService *auth.JWTService, allowedOrigins string, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &WSHandler{
		jwtService: jwtService,
		logger:     logger,
		clients:    make(map[string]map[*feedConn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed string) func(*http.Request) bool {
	var origins []string
	for _, o := range strings.Split(allowed, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if strings.EqualFold(origin, o) {
				return true
			}
		}
		return false
	}
}

// RegisterRoutes wires the notifications WebSocket endpoint.
func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws/notifications", h.ServeWS).Methods(http.MethodGet)
}

// ServeWS authenticates with ?token= or a bearer header, then upgrades.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			token = parts[1]
		}
	}
	if token == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := h.jwtService.ValidateToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sellerID := claims.SellerID
	fc := newFeedConn(conn)
	h.addClient(sellerID, fc)
	h.logger.Info("notification feed connected", zap.String("seller_id", sellerID))

	go fc.writePump()

	// Read pump: only detects disconnects and keeps the pong deadline fresh.
	go func() {
		defer func() {
			h.removeClient(sellerID, fc)
			conn.Close()
			h.logger.Info("notification feed disconnected", zap.String("seller_id", sellerID))
		}()

		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn("notification feed read error", zap.String("seller_id", sellerID), zap.Error(err))
				}
				return
			}
		}
	}()
}

// Broadcast queues n for every connection of sellerID without blocking. A
// connection whose queue is full is dropped; the client reconnects and
// reloads its list over HTTP.
func (h *WSHandler) Broadcast(sellerID string, n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}

	var slow []*feedConn
	h.mu.RLock()
	for c := range h.clients[sellerID] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("notification feed too slow, dropping connection", zap.String("seller_id", sellerID))
		h.removeClient(sellerID, c)
	}
}

// Connections returns the number of open connections for sellerID.
func (h *WSHandler) Connections(sellerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sellerID])
}

func (h *WSHandler) addClient(sellerID string, c *feedConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sellerID] == nil {
		h.clients[sellerID] = make(map[*feedConn]struct{})
	}
	h.clients[sellerID][c] = struct{}{}
}

// removeClient unregisters c and closes its send queue, which stops the
// write pump. Calling it twice is harmless.
func (h *WSHandler) removeClient(sellerID string, c *feedConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[sellerID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	close(c.send)
	if len(conns) == 0 {
		delete(h.clients, sellerID)
	}
}
