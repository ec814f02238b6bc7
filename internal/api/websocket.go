package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-fluent/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fluent/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypeCommand     = "command"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const (
	// ChannelPrefixItem prefixes item event channels: item.command,
	// item.update and item.change.
	ChannelPrefixItem = "item."

	// ChannelAll subscribes a client to every channel.
	ChannelAll = "*"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	// wsCommandTimeout bounds a command sent over the socket.
	wsCommandTimeout = 5 * time.Second
)

// WSMessage is the envelope of every message in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// inboundMessage is WSMessage with the payload left undecoded until the
// type is known.
type inboundMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// WSSubscribePayload selects channels and, optionally, the items whose
// events are wanted. No items means every item.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Items    []string `json:"items,omitempty"`
}

// WSCommandPayload sends a command to an item.
type WSCommandPayload struct {
	Item  string `json:"item"`
	Value string `json:"value"`
}

// CommandSender dispatches item commands received from clients.
// Satisfied by *items.Registry.
type CommandSender interface {
	SendCommand(ctx context.Context, name, value string) error
}

// Hub tracks connected clients and fans item events out to them.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	commands CommandSender

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected socket and its subscriptions.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}
	items    map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // origin checking is handled by the CORS middleware
	},
}

// NewHub creates a hub. commands may be nil, in which case command
// messages are rejected.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, commands CommandSender) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		commands: commands,
		clients:  make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Only the caller that actually removed it
// closes the send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends payload on channel to every client subscribed to it and,
// if the client filters by item, to item.
func (h *Hub) Broadcast(channel, item string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.wants(channel, item) {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the connection. Clients receive nothing until
// they subscribe.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
		items:    make(map[string]struct{}),
	}
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(deadline)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // best effort
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Any client traffic counts as liveness; browsers may not answer pings.
		extend() //nolint:errcheck // best effort
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error caught below
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error caught below
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleSubscription(msg)
	case WSTypeCommand:
		c.handleCommand(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscription adds or removes channels and item filters.
func (c *WSClient) handleSubscription(msg inboundMessage) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil || len(sub.Channels)+len(sub.Items) == 0 {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	add := msg.Type == WSTypeSubscribe
	c.mu.Lock()
	for _, ch := range sub.Channels {
		if add {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
	for _, name := range sub.Items {
		if add {
			c.items[name] = struct{}{}
		} else {
			delete(c.items, name)
		}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket subscription changed", "type", msg.Type, "channels", sub.Channels, "items", sub.Items)

	key := "subscribed"
	if !add {
		key = "unsubscribed"
	}
	c.reply(msg.ID, WSTypeResponse, map[string]any{key: sub.Channels, "items": sub.Items})
}

// handleCommand sends an item command on behalf of the client.
func (c *WSClient) handleCommand(msg inboundMessage) {
	var cmd WSCommandPayload
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil || cmd.Item == "" || cmd.Value == "" {
		c.sendError(msg.ID, "command payload needs item and value")
		return
	}
	if c.hub.commands == nil {
		c.sendError(msg.ID, "commands are not accepted")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsCommandTimeout)
	defer cancel()
	if err := c.hub.commands.SendCommand(ctx, cmd.Item, cmd.Value); err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}
	c.reply(msg.ID, WSTypeResponse, map[string]string{
		"item":    cmd.Item,
		"command": cmd.Value,
		"status":  "accepted",
	})
}

// trySend queues data without blocking. A full buffer drops the message and
// a closed channel (client gone mid-broadcast) is absorbed.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed channel
	}()

	select {
	case c.send <- data:
	default:
	}
}

// wants reports whether an event on channel for item should reach the client.
func (c *WSClient) wants(channel, item string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, all := c.channels[ChannelAll]
	_, sub := c.channels[channel]
	if !all && !sub {
		return false
	}
	if len(c.items) == 0 || item == "" {
		return true
	}
	_, ok := c.items[item]
	return ok
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
