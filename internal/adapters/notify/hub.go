package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	hubBuffer    = 64
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// envelope es el mensaje JSON enviado a los clientes.
type envelope struct {
	Type string `json:"type"` // trade | status
	Data any    `json:"data"`
}

// Hub implementa ports.Notifier difundiendo cada evento por websocket.
// Nunca bloquea al engine: si el buffer está lleno el evento se descarta.
type Hub struct {
	broadcast chan []byte

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, hubBuffer),
		clients:   make(map[*websocket.Conn]struct{}),
	}
}

// Run reparte los mensajes hasta que ctx se cancela; entonces cierra los clientes.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.broadcast:
			h.send(msg)
		}
	}
}

// ServeHTTP acepta un cliente en /ws.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("hub: upgrade failed", "err", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	slog.Debug("hub: client connected", "remote", r.RemoteAddr, "clients", n)

	// Los clientes no envían nada; leer detecta el cierre.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(conn)
				return
			}
		}
	}()
}

// Clients devuelve el número de clientes conectados.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// NotifyTrade implementa ports.Notifier.
func (h *Hub) NotifyTrade(_ context.Context, r domain.TradeResult) error {
	return h.publish("trade", r)
}

// NotifyStatus implementa ports.Notifier.
func (h *Hub) NotifyStatus(_ context.Context, ev domain.StatusEvent) error {
	return h.publish("status", ev)
}

func (h *Hub) publish(kind string, data any) error {
	msg, err := json.Marshal(envelope{Type: kind, Data: data})
	if err != nil {
		return fmt.Errorf("notify.Hub: encode %s: %w", kind, err)
	}
	select {
	case h.broadcast <- msg:
	default:
		slog.Warn("hub: buffer full, dropping event", "type", kind)
	}
	return nil
}

func (h *Hub) send(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			slog.Debug("hub: dropping client", "err", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(time.Second))
		conn.Close()
		delete(h.clients, conn)
	}
}
