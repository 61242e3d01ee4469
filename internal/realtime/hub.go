package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tradepost/tradepost-messaging/pkg/logger"
	"go.uber.org/zap"
)

// EventBroker is the cross-node event transport the hub consumes. Implemented
// by the Redis pub/sub broker; tests substitute an in-memory channel.
type EventBroker interface {
	Publish(event Event) error
	Subscribe() (<-chan Event, error)
	Close() error
}

const (
	writeWait      = 10 * time.Second // Time allowed to write a message to the peer
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // 54 seconds
	maxMessageSize = 4 * 1024
)

// Session is one authenticated websocket connection. Writes are serialized
// through writeMu because broadcasts and the ping loop share the conn.
type Session struct {
	conn        *websocket.Conn
	UserID      uuid.UUID
	Username    string
	connectedAt time.Time
	writeMu     sync.Mutex
}

// Send writes one event to the session, fire-and-forget. Errors are returned
// so the read loop can drop the connection, but they never propagate to the
// write that produced the event.
func (s *Session) Send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *Session) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// Hub tracks connected sessions and their per-thread subscriptions, and fans
// events out to subscribers. Cross-node fan-out goes through the event broker;
// the hub broadcasts whatever arrives on the broker channel, so every node
// delivers events in the order they were published.
type Hub struct {
	broker EventBroker

	mu       sync.RWMutex
	sessions map[*websocket.Conn]*Session
	threads  map[uuid.UUID]map[*Session]struct{}
}

func NewHub(eventBroker EventBroker) *Hub {
	return &Hub{
		broker:   eventBroker,
		sessions: make(map[*websocket.Conn]*Session),
		threads:  make(map[uuid.UUID]map[*Session]struct{}),
	}
}

// Run consumes the broker event stream and broadcasts locally until the
// context is cancelled or the broker channel closes.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.broker.Subscribe()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			h.broadcast(event)
		}
	}
}

// Publish hands an event to the broker. Called by services after commit;
// failures are logged, never returned to the originating write path.
func (h *Hub) Publish(event Event) {
	if err := h.broker.Publish(event); err != nil {
		logger.Log.Warn("realtime: publish failed",
			zap.String("type", string(event.Type)),
			zap.String("thread_id", event.ThreadID.String()),
			zap.Error(err),
		)
	}
}

// Register adds an authenticated connection to the hub.
func (h *Hub) Register(conn *websocket.Conn, userID uuid.UUID, username string) *Session {
	session := &Session{
		conn:        conn,
		UserID:      userID,
		Username:    username,
		connectedAt: time.Now(),
	}

	h.mu.Lock()
	h.sessions[conn] = session
	total := len(h.sessions)
	h.mu.Unlock()

	logger.Log.Info("realtime: client connected",
		zap.String("username", username),
		zap.Int("total", total),
	)
	return session
}

// Unregister removes the connection and all its thread subscriptions.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	session, exists := h.sessions[conn]
	if exists {
		delete(h.sessions, conn)
		for threadID, subs := range h.threads {
			delete(subs, session)
			if len(subs) == 0 {
				delete(h.threads, threadID)
			}
		}
	}
	remaining := len(h.sessions)
	h.mu.Unlock()

	if exists {
		conn.Close()
		logger.Log.Info("realtime: client disconnected",
			zap.String("username", session.Username),
			zap.Duration("session_duration", time.Since(session.connectedAt).Round(time.Second)),
			zap.Int("remaining", remaining),
		)
	}
}

// Subscribe attaches the session to a thread's event stream. Authorization
// (participant check) happens in the handler before this is called.
func (h *Hub) Subscribe(session *Session, threadID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.threads[threadID] == nil {
		h.threads[threadID] = make(map[*Session]struct{})
	}
	h.threads[threadID][session] = struct{}{}
}

// Unsubscribe detaches the session from a thread.
func (h *Hub) Unsubscribe(session *Session, threadID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs := h.threads[threadID]; subs != nil {
		delete(subs, session)
		if len(subs) == 0 {
			delete(h.threads, threadID)
		}
	}
}

// SubscriberCount reports how many sessions follow a thread on this node.
func (h *Hub) SubscriberCount(threadID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.threads[threadID])
}

func (h *Hub) broadcast(event Event) {
	h.mu.RLock()
	subscribers := make([]*Session, 0, len(h.threads[event.ThreadID]))
	for session := range h.threads[event.ThreadID] {
		subscribers = append(subscribers, session)
	}
	h.mu.RUnlock()

	for _, session := range subscribers {
		if err := session.Send(event); err != nil {
			// No redelivery queue: log and let the read loop reap the conn
			logger.Log.Warn("realtime: delivery failed",
				zap.String("username", session.Username),
				zap.Error(err),
			)
		}
	}
}

// PingLoop keeps the connection alive with periodic pings until done closes.
func (h *Hub) PingLoop(session *Session, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := session.ping(); err != nil {
				logger.Log.Debug("realtime: ping failed",
					zap.String("username", session.Username),
					zap.Error(err),
				)
				return
			}
		case <-done:
			return
		}
	}
}
