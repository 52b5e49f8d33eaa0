package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/studysync/authcore/internal/audit"
	"github.com/studysync/authcore/internal/auth"
	"github.com/studysync/authcore/internal/infrastructure/config"
	"github.com/studysync/authcore/internal/infrastructure/logging"
	"github.com/studysync/authcore/internal/infrastructure/mqtt"
	"github.com/studysync/authcore/internal/presence"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
	WSTypeConnected   = "connected"

	// ChannelPresence carries presence.changed events to subscribed clients.
	ChannelPresence = "presence.changed"

	// privateChannelPrefix prefixes each subject's private channel.
	privateChannelPrefix = "user:"

	// accessTokenParam carries the credential when the client cannot set headers.
	accessTokenParam = "access_token"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// PrivateChannel returns the channel only subjectID's connections join.
func PrivateChannel(subjectID string) string {
	return privateChannelPrefix + subjectID
}

// PresenceHandler is told when a subject gains its first or loses its last
// connection.
type PresenceHandler func(subjectID string, online bool)

// Hub manages WebSocket connections, their presence, and event fan-out.
type Hub struct {
	cfg        config.WebSocketConfig
	logger     *logging.Logger
	presence   *presence.Registry
	onPresence PresenceHandler
	clients    map[*WSClient]struct{}
	closed     bool // set by closeAll; guarded by mu
	mu         sync.RWMutex
}

// WSClient represents a connected, authenticated WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
	connID        string
	identity      *auth.Identity
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub tracking presence in registry.
func NewHub(cfg config.WebSocketConfig, registry *presence.Registry, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		presence: registry,
		clients:  make(map[*WSClient]struct{}),
	}
}

// SetPresenceHandler installs fn as the presence change callback. It must
// be called before the hub accepts connections.
func (h *Hub) SetPresenceHandler(fn PresenceHandler) {
	h.onPresence = fn
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub and to the presence registry. Once the
// hub has shut down it closes the client's connection and returns false.
func (h *Hub) Register(client *WSClient) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		if client.conn != nil {
			client.conn.Close()
		}
		h.logger.Debug("websocket client refused after shutdown", "connection_id", client.connID)
		return false
	}
	h.clients[client] = struct{}{}
	// Presence is added under mu so closeAll always releases it.
	gained := h.presence.Add(client.identity.SubjectID, client.connID)
	h.mu.Unlock()

	h.logger.Debug("websocket client connected",
		"connection_id", client.connID,
		"subject_id", client.identity.SubjectID,
		"clients", h.ClientCount(),
	)
	if gained {
		h.notifyPresence(client.identity.SubjectID, true)
	}
	return true
}

// Unregister removes a client from the hub and the presence registry.
// Only the goroutine that successfully removes the client from the map
// closes the send channel and releases presence, so a client is released
// exactly once.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if !existed {
		return
	}
	close(client.send)
	h.release(client)
	h.logger.Debug("websocket client disconnected",
		"connection_id", client.connID,
		"clients", h.ClientCount(),
	)
}

// release drops client's presence and signals a loss when it was the
// subject's last connection.
func (h *Hub) release(client *WSClient) {
	if h.presence.Remove(client.identity.SubjectID, client.connID) {
		h.notifyPresence(client.identity.SubjectID, false)
	}
}

func (h *Hub) notifyPresence(subjectID string, online bool) {
	if h.onPresence != nil {
		h.onPresence(subjectID, online)
	}
}

// Broadcast sends an event to all clients subscribed to the given channel.
// Lock ordering: hub lock is acquired first, then released before per-client
// subscription checks.
func (h *Hub) Broadcast(channel string, payload any) int {
	data, ok := h.encodeEvent(channel, payload)
	if !ok {
		return 0
	}

	sent := 0
	for _, client := range h.snapshot() {
		if client.isSubscribed(channel) {
			client.trySend(data)
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sent)
	}
	return sent
}

// SendToSubject delivers an event on subjectID's private channel.
func (h *Hub) SendToSubject(subjectID, eventType string, payload any) int {
	data, ok := h.encodeEvent(eventType, payload)
	if !ok {
		return 0
	}

	sent := 0
	for _, client := range h.snapshot() {
		if client.identity.SubjectID == subjectID {
			client.trySend(data)
			sent++
		}
	}
	return sent
}

// DisconnectSubject closes every connection held by subjectID and returns
// how many were closed. Presence is released as each read pump exits.
func (h *Hub) DisconnectSubject(subjectID string) int {
	closed := 0
	for _, client := range h.snapshot() {
		if client.identity.SubjectID != subjectID {
			continue
		}
		if client.conn != nil {
			//nolint:errcheck // Best-effort close frame before dropping the socket
			client.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "account deactivated"),
				time.Now().Add(time.Second))
			client.conn.Close()
		}
		closed++
	}
	return closed
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func (h *Hub) encodeEvent(eventType string, payload any) ([]byte, bool) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal event", "event_type", eventType, "error", err)
		return nil, false
	}
	return data, true
}

// closeAll disconnects all clients, closes their send channels so write
// pumps exit, and releases their presence.
func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		h.release(client)
	}
}

// onPresence fans a presence change out to subscribed WebSocket clients,
// MQTT and telemetry.
func (s *Server) onPresence(subjectID string, online bool) {
	now := time.Now().UTC()
	event := mqtt.PresenceEvent{SubjectID: subjectID, Online: online, Timestamp: now}

	s.hub.Broadcast(ChannelPresence, event)

	subjects := s.presence.Count()
	s.metrics.presenceSubjects.Set(float64(subjects))
	if s.telemetry != nil {
		s.telemetry.WritePresence(subjects, now)
	}

	if s.mqtt != nil && s.mqtt.IsConnected() {
		if err := s.mqtt.PublishJSON(mqtt.Topics{}.Presence(subjectID), event, true); err != nil {
			s.logger.Warn("presence publish failed", "subject_id", subjectID, "error", err)
		}
	}
}

// subscribeAccountEvents deactivates accounts announced on MQTT by other
// StudySync services.
func (s *Server) subscribeAccountEvents() error {
	if s.mqtt == nil {
		return nil // MQTT not configured
	}
	topic := mqtt.Topics{}.AccountDeactivated()
	s.logger.Info("subscribing to account events", "topic", topic)
	return s.mqtt.Subscribe(topic, 1, s.handleAccountDeactivated)
}

// handleAccountDeactivated is the MQTT handler for account deactivation events.
func (s *Server) handleAccountDeactivated(_ string, payload []byte) error {
	ev, err := mqtt.ParseAccountDeactivated(payload)
	if err != nil {
		s.logger.Warn("ignoring malformed account event", "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	known, err := s.sessions.Deactivate(ctx, ev.UserID)
	if err != nil {
		s.logger.Warn("account event deactivation failed", "user_id", ev.UserID, "error", err)
		return err
	}
	disconnected := s.hub.DisconnectSubject(ev.UserID)
	s.recordEvent(ctx, audit.Event{
		Action:    audit.ActionDeactivate,
		SubjectID: ev.UserID,
		Source:    audit.SourceMQTT,
		Details:   map[string]any{"known_revocations": known, "disconnected": disconnected},
	})
	s.logger.Info("account deactivated from event",
		"user_id", ev.UserID,
		"known_revocations", known,
		"disconnected", disconnected,
	)
	return nil
}

// handleWebSocket authenticates the handshake and upgrades the connection.
// The credential comes from the Authorization header or the access_token
// query parameter. A rejected handshake is answered with the same JSON
// error as HTTP and never upgraded.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, ok := auth.ExtractBearer(r.Header.Get("Authorization"))
	if !ok {
		raw = r.URL.Query().Get(accessTokenParam)
	}

	id, rej := s.authn.Authenticate(r.Context(), raw)
	s.recordOutcome(transportWebSocket, rej)
	if rej != nil {
		writeRejection(w, rej)
		return
	}
	if !id.Can(auth.PermRealtimeConnect) {
		writeForbidden(w, "insufficient permissions")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{
			PrivateChannel(id.SubjectID): {},
		},
		connID:   "conn-" + uuid.NewString(),
		identity: id,
	}

	if !s.hub.Register(client) {
		return
	}
	client.sendResponse("", WSTypeConnected, map[string]string{
		"connection_id": client.connID,
		"subject_id":    id.SubjectID,
		"channel":       PrivateChannel(id.SubjectID),
	})

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "connection_id", c.connID, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "connection_id", c.connID, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func decodeChannels(msg WSMessage) ([]string, bool) {
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, false
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(payloadBytes, &sub); err != nil {
		return nil, false
	}
	return sub.Channels, true
}

// handleSubscribe adds channels to the client's subscription list. Other
// subjects' private channels are refused.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	channels, ok := decodeChannels(msg)
	if !ok {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	own := PrivateChannel(c.identity.SubjectID)
	for _, ch := range channels {
		if strings.HasPrefix(ch, privateChannelPrefix) && ch != own {
			c.sendError(msg.ID, "cannot subscribe to another user's channel")
			return
		}
	}

	c.mu.Lock()
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "connection_id", c.connID, "channels", channels)
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": channels,
	})
}

// handleUnsubscribe removes channels from the client's subscription list.
// The private channel cannot be left.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	channels, ok := decodeChannels(msg)
	if !ok {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	own := PrivateChannel(c.identity.SubjectID)
	c.mu.Lock()
	for _, ch := range channels {
		if ch != own {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": channels,
	})
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// sendResponse sends a response message to the client.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
