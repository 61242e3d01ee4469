package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tradepost/tradepost-messaging/internal/middleware"
	"github.com/tradepost/tradepost-messaging/internal/realtime"
	"github.com/tradepost/tradepost-messaging/internal/service"
	"github.com/tradepost/tradepost-messaging/pkg/logger"
	"go.uber.org/zap"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsMaxMessageSize = 4 * 1024
)

// wsAck answers subscription frames so clients can confirm thread joins.
type wsAck struct {
	Type     string `json:"type"` // "subscribed", "unsubscribed", "error"
	ThreadID string `json:"thread_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

type WebSocketHandler struct {
	hub            *realtime.Hub
	messageService *service.MessageService
	policy         realtime.Policy
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // add origin check in production
	},
}

func NewWebSocketHandler(hub *realtime.Hub, messageService *service.MessageService, policy realtime.Policy) *WebSocketHandler {
	return &WebSocketHandler{
		hub:            hub,
		messageService: messageService,
		policy:         policy,
	}
}

// GET /api/realtime/policy — the reconnection schedule clients should run.
// Serving it from configuration keeps server and client parameters in step.
func (h *WebSocketHandler) Policy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"backoffBaseMs":     h.policy.Base.Milliseconds(),
		"backoffMultiplier": h.policy.Multiplier,
		"backoffMaxMs":      h.policy.Max.Milliseconds(),
		"maxRetries":        h.policy.MaxRetries,
		"pollIntervalMs":    h.policy.PollInterval.Milliseconds(),
	})
}

// GET /api/ws — one persistent connection per session. The client manages
// thread subscriptions with subscribe/unsubscribe frames; reconnection is
// entirely client-driven.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	claims, ok := middleware.SessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := h.hub.Register(conn, claims.UserID, claims.Username)
	defer h.hub.Unregister(conn)

	done := make(chan struct{})
	defer close(done)
	go h.hub.PingLoop(session, done)

	h.readLoop(conn, session)
}

func (h *WebSocketHandler) readLoop(conn *websocket.Conn, session *realtime.Session) {
	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var sub realtime.Subscription
		if err := conn.ReadJSON(&sub); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Debug("websocket read error",
					zap.String("username", session.Username),
					zap.Error(err),
				)
			}
			return
		}

		switch sub.Action {
		case "subscribe":
			h.subscribe(session, sub)
		case "unsubscribe":
			h.hub.Unsubscribe(session, sub.ThreadID)
			h.ack(session, wsAck{Type: "unsubscribed", ThreadID: sub.ThreadID.String()})
		default:
			h.ack(session, wsAck{Type: "error", Error: "unknown action"})
		}
	}
}

// subscribe verifies thread membership before attaching the session; events
// for a thread only ever reach its participants.
func (h *WebSocketHandler) subscribe(session *realtime.Session, sub realtime.Subscription) {
	thread, err := h.messageService.Thread(sub.ThreadID)
	if err != nil {
		h.ack(session, wsAck{Type: "error", ThreadID: sub.ThreadID.String(), Error: "thread not found"})
		return
	}
	if !thread.HasParticipant(session.UserID) {
		h.ack(session, wsAck{Type: "error", ThreadID: sub.ThreadID.String(), Error: "not a participant"})
		return
	}

	h.hub.Subscribe(session, sub.ThreadID)
	h.ack(session, wsAck{Type: "subscribed", ThreadID: sub.ThreadID.String()})
}

func (h *WebSocketHandler) ack(session *realtime.Session, ack wsAck) {
	if err := session.Send(ack); err != nil {
		logger.Log.Debug("websocket ack failed", zap.Error(err))
	}
}
