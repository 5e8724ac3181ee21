package www

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Client is one websocket connection. Clients only receive, anything they send is
// read and discarded to keep the control messages flowing.
type Client struct {
	logger *slog.Logger
	hub    *Hub
	conn   *ws.Conn
	send   chan []byte
	name   string
}

func NewClient(hub *Hub, w http.ResponseWriter, r *http.Request, name string) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		logger: hub.logger.With(slog.String("client", name)),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 16),
		name:   name,
	}, nil
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
	}()

	c.conn.SetReadLimit(512)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("web socket set read deadline failed", slog.Any("error", err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseNormalClosure) {
				c.logger.Warn("web socket closed unexpectedly", slog.Any("error", err))
			}
			return
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("web socket set write deadline failed", slog.Any("error", err))
				return
			}

			if !ok {
				if err := c.conn.WriteMessage(ws.CloseMessage, []byte{}); err != nil {
					c.logger.Debug("web socket close message failed", slog.Any("error", err))
				}
				return
			}

			if err := c.conn.WriteMessage(ws.TextMessage, message); err != nil {
				c.logger.Warn("web socket write failed", slog.Any("error", err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("web socket set write deadline failed", slog.Any("error", err))
				return
			}
			if err := c.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				c.logger.Warn("web socket ping message failed", slog.Any("error", err))
				return
			}
		}
	}
}

// Hub keeps track of the connected clients and fans out run events to them.
type Hub struct {
	logger    *slog.Logger
	broadcast chan []byte
	mutex     sync.Mutex
	clients   map[*Client]struct{}
	closed    bool
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:    logger,
		broadcast: make(chan []byte, 16),
		clients:   make(map[*Client]struct{}),
	}
}

func (h *Hub) register(c *Client) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.closed {
		return false
	}
	h.logger.Debug("registering client", "clientName", c.name)
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[c]; ok {
		h.logger.Debug("unregistering client", "clientName", c.name)
		delete(h.clients, c)
		close(c.send)
	}
}

// Publish queues v as a JSON message to all clients. It never blocks, the message is
// dropped when the hub is behind.
func (h *Hub) Publish(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encoding web socket message failed", slog.Any("error", err))
		return
	}
	select {
	case h.broadcast <- b:
	default:
		h.logger.Warn("hub is busy, dropping message")
	}
}

func (h *Hub) Clients() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Run delivers published messages until ctx is done, then closes all clients.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			h.closed = true
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()
			return

		case message := <-h.broadcast:
			h.mutex.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default: // Client's channel is full, drop the message
					h.logger.Warn("client send buffer full, dropping message", "clientName", c.name)
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	client, err := NewClient(h, w, r, r.Header.Get("User-Agent"))
	if err != nil {
		h.logger.Error("new websocket client failed", slog.Any("error", err))
		return
	}
	if !h.register(client) {
		client.conn.Close()
		return
	}
	go client.WritePump()
	go client.ReadPump()
}
