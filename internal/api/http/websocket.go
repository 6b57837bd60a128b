package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Secineralyr/Cotonestrum/internal/events"
	"github.com/Secineralyr/Cotonestrum/internal/reducer"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Size of the send buffer for each subscriber.
	sendBufferSize = 256
)

// Event types broadcast to local views.
const (
	EventTypeRegistryChanged = events.EventTypeRegistryChanged
	EventTypeServerNotice    = events.EventTypeServerNotice
	EventTypeConnection      = events.EventTypeConnection
)

// WSMessage represents a WebSocket message sent to subscribers.
type WSMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// SubscriptionMessage represents a subscription request from a view.
type SubscriptionMessage struct {
	Action     string   `json:"action"` // "subscribe" or "unsubscribe"
	EventTypes []string `json:"event_types"`
}

// Subscriber is one local view connected to the change feed.
type Subscriber struct {
	hub *Hub

	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// Subscribed event types (if empty, receives all events).
	subscriptions map[string]bool
	mu            sync.RWMutex

	logger *zap.Logger
}

// Hub fans registry changes out to local views over websockets.
type Hub struct {
	subscribers map[*Subscriber]bool

	broadcast  chan []byte
	register   chan *Subscriber
	unregister chan *Subscriber

	mu     sync.RWMutex
	logger *zap.Logger
	done   chan struct{}
}

// NewHub creates a new Hub instance.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*Subscriber]bool),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		logger:      logger.Named("hub"),
		done:        make(chan struct{}),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			n := len(h.subscribers)
			h.mu.Unlock()
			h.logger.Debug("Subscriber registered", zap.Int("total_subscribers", n))

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.send)
				h.logger.Debug("Subscriber unregistered", zap.Int("total_subscribers", len(h.subscribers)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-h.done:
			h.shutdown()
			return
		}
	}
}

// Attach broadcasts red's change sets and notices. The returned function
// detaches the hub.
func (h *Hub) Attach(red *reducer.Reducer) func() {
	unsubChanges := red.Subscribe(h.BroadcastChanges)
	unsubNotices := red.OnNotice(h.BroadcastNotice)
	return func() {
		unsubChanges()
		unsubNotices()
	}
}

// BroadcastChanges broadcasts a registry change set.
func (h *Hub) BroadcastChanges(cs reducer.ChangeSet) {
	h.BroadcastEvent(EventTypeRegistryChanged, events.NewRegistryChangedEvent(cs))
}

// BroadcastNotice broadcasts a server notice.
func (h *Hub) BroadcastNotice(n reducer.Notice) {
	h.BroadcastEvent(EventTypeServerNotice, events.NewNoticeEvent(n))
}

// BroadcastConnection broadcasts a connection state transition.
func (h *Hub) BroadcastConnection(state, address string, cause error) {
	h.BroadcastEvent(EventTypeConnection, events.NewConnectionEvent(state, address, cause))
}

// broadcastMessage sends a message to all subscribed views.
func (h *Hub) broadcastMessage(message []byte) {
	var wsMsg WSMessage
	if err := json.Unmarshal(message, &wsMsg); err != nil {
		h.logger.Error("Failed to unmarshal message for broadcasting", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers {
		if sub.isSubscribed(wsMsg.Type) {
			select {
			case sub.send <- message:
			default:
				// Slow view; drop it.
				go func(s *Subscriber) {
					select {
					case h.unregister <- s:
					case <-h.done:
					}
				}(sub)
			}
		}
	}
}

// BroadcastEvent broadcasts an event to all connected views.
func (h *Hub) BroadcastEvent(eventType string, data any) {
	msg := WSMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err), zap.String("event_type", eventType))
		return
	}

	select {
	case h.broadcast <- msgBytes:
	default:
		h.logger.Warn("Broadcast channel full, dropping message", zap.String("event_type", eventType))
	}
}

// SubscriberCount returns the number of connected views.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Shutdown gracefully shuts down the hub.
func (h *Hub) Shutdown() {
	close(h.done)
}

// shutdown closes all subscriber connections.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers {
		close(sub.send)
		if sub.conn != nil {
			sub.conn.Close()
		}
	}
	h.subscribers = make(map[*Subscriber]bool)
}

// isSubscribed checks if the view is subscribed to the given event type.
func (s *Subscriber) isSubscribed(eventType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.subscriptions) == 0 {
		return true
	}
	return s.subscriptions[eventType]
}

func (s *Subscriber) subscribe(eventTypes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscriptions == nil {
		s.subscriptions = make(map[string]bool)
	}
	for _, eventType := range eventTypes {
		s.subscriptions[eventType] = true
	}

	s.logger.Debug("Subscribed to events", zap.Strings("event_types", eventTypes))
}

func (s *Subscriber) unsubscribe(eventTypes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, eventType := range eventTypes {
		delete(s.subscriptions, eventType)
	}

	s.logger.Debug("Unsubscribed from events", zap.Strings("event_types", eventTypes))
}

// readPump handles subscription messages from the view.
func (s *Subscriber) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var subMsg SubscriptionMessage
		if err := json.Unmarshal(message, &subMsg); err != nil {
			s.logger.Debug("Ignoring non-JSON message", zap.ByteString("message", message))
			continue
		}

		switch subMsg.Action {
		case "subscribe":
			s.subscribe(subMsg.EventTypes)
		case "unsubscribe":
			s.unsubscribe(subMsg.EventTypes)
		default:
			s.logger.Debug("Unknown subscription action", zap.String("action", subMsg.Action))
		}
	}
}

// writePump writes one websocket message per event.
func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// upgrader only accepts same-origin or origin-less requests; the feed is
// meant for local views.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeWS upgrades the request and registers the view with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	sub := &Subscriber{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]bool),
		logger:        h.logger.With(zap.String("remote_addr", r.RemoteAddr)),
	}

	select {
	case h.register <- sub:
	case <-h.done:
		conn.Close()
		return
	}

	go sub.writePump()
	go sub.readPump()
}
