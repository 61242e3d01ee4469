package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Subscription is the client→server frame managing thread subscriptions.
type Subscription struct {
	Action   string    `json:"action"` // "subscribe" | "unsubscribe"
	ThreadID uuid.UUID `json:"thread_id"`
}

// PollFunc fetches missed events while the push channel is down. Usually
// backed by GET /api/messages for each followed thread.
type PollFunc func(ctx context.Context, threadIDs []uuid.UUID) ([]Event, error)

// Client maintains one persistent push connection, resubscribes to followed
// threads after every reconnect, and degrades to polling per the reconnection
// policy. All received events are handed to the handler in arrival order.
type Client struct {
	url     string
	header  http.Header
	handler func(Event)
	pollFn  PollFunc
	rec     *Reconnector

	mu      sync.Mutex
	conn    *websocket.Conn
	threads map[uuid.UUID]struct{}
}

func NewClient(url string, header http.Header, policy Policy, handler func(Event), pollFn PollFunc, onState func(State)) *Client {
	c := &Client{
		url:     url,
		header:  header,
		handler: handler,
		pollFn:  pollFn,
		threads: make(map[uuid.UUID]struct{}),
	}
	c.rec = NewReconnector(policy, c.dial, c.poll, onState)
	return c
}

// Run connects and keeps the client alive until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	return c.rec.Run(ctx)
}

// State exposes the connection state for indicators.
func (c *Client) State() State { return c.rec.State() }

// ReconnectNow skips any pending backoff and retries immediately.
func (c *Client) ReconnectNow() { c.rec.ReconnectNow() }

// Join subscribes to a thread, now and after every reconnect.
func (c *Client) Join(threadID uuid.UUID) error {
	c.mu.Lock()
	c.threads[threadID] = struct{}{}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil // sent on next connect
	}
	return c.send(conn, Subscription{Action: "subscribe", ThreadID: threadID})
}

// Leave unsubscribes from a thread.
func (c *Client) Leave(threadID uuid.UUID) error {
	c.mu.Lock()
	delete(c.threads, threadID)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.send(conn, Subscription{Action: "unsubscribe", ThreadID: threadID})
}

// dial establishes the websocket, replays subscriptions, and blocks in the
// read loop until the connection drops.
func (c *Client) dial(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	followed := make([]uuid.UUID, 0, len(c.threads))
	for id := range c.threads {
		followed = append(followed, id)
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.rec.Connected()

	for _, id := range followed {
		if err := c.send(conn, Subscription{Action: "subscribe", ThreadID: id}); err != nil {
			return err
		}
	}

	for {
		var event Event
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := conn.ReadJSON(&event); err != nil {
			return err
		}
		c.handler(event)
	}
}

// poll performs one fallback poll cycle over all followed threads.
func (c *Client) poll(ctx context.Context) error {
	if c.pollFn == nil {
		return nil
	}

	c.mu.Lock()
	followed := make([]uuid.UUID, 0, len(c.threads))
	for id := range c.threads {
		followed = append(followed, id)
	}
	c.mu.Unlock()

	events, err := c.pollFn(ctx, followed)
	if err != nil {
		return err
	}
	for _, event := range events {
		c.handler(event)
	}
	return nil
}

func (c *Client) send(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
