package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/medscribe/gateway/internal/upstream"
	appErrors "github.com/medscribe/gateway/pkg/errors"
)

// Client is one physical websocket connection with its authenticated
// context, joined namespaces, and session-scoped transcription state.
type Client struct {
	hub    *Hub
	socket *websocket.Conn
	ctx    *ConnectionContext

	remoteAddr string
	userAgent  string

	send chan Event
	done chan struct{}

	// lifeCtx is cancelled on disconnect; session-scoped work hangs off it.
	lifeCtx context.Context
	cancel  context.CancelFunc

	// joined is touched only from the read loop.
	joined map[string]struct{}

	streamsMu sync.Mutex
	streams   map[string]upstream.Stream

	closeOnce sync.Once
	log       *zap.Logger
}

func newClient(h *Hub, conn *websocket.Conn, connCtx *ConnectionContext, remoteAddr, userAgent string) *Client {
	lifeCtx, cancel := context.WithCancel(h.baseCtx)
	return &Client{
		hub:        h,
		socket:     conn,
		ctx:        connCtx,
		remoteAddr: remoteAddr,
		userAgent:  userAgent,
		send:       make(chan Event, h.cfg.SendBuffer),
		done:       make(chan struct{}),
		lifeCtx:    lifeCtx,
		cancel:     cancel,
		joined:     make(map[string]struct{}),
		streams:    make(map[string]upstream.Stream),
		log:        h.log.With(zap.String("user_id", connCtx.UserID)),
	}
}

// Identity keys rate-limit counters: the authenticated user id, or the
// network address for the (unexpected) unauthenticated case.
func (c *Client) Identity() string {
	if c.ctx != nil && c.ctx.UserID != "" {
		return c.ctx.UserID
	}
	return c.remoteAddr
}

// Context returns the connection's authenticated context.
func (c *Client) Context() *ConnectionContext { return c.ctx }

// Enqueue queues an outbound event. A consumer that cannot keep up is
// disconnected rather than allowed to block other connections.
func (c *Client) Enqueue(event Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- event:
		return true
	default:
		c.log.Warn("dropping backpressured connection")
		c.Close()
		return false
	}
}

// Closed reports whether the connection has been torn down.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) hasJoined(namespace string) bool {
	_, ok := c.joined[namespace]
	return ok
}

func (c *Client) readLoop() {
	defer c.Close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("unexpected close", zap.Error(err))
			}
			return
		}

		if len(payload) == 0 {
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.Enqueue(errorEvent("", appErrors.NewBadRequest("Malformed message envelope")))
			continue
		}

		c.hub.dispatch(c, msg)
	}
}

func (c *Client) writeLoop() {
	defer c.Close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Close tears the connection down exactly once: session-scoped
// transcription state, room memberships, and rate counters are released.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
		c.releaseStreams()
		c.hub.unregister(c)
		_ = c.socket.Close()
	})
}

// releaseStreams closes every transcription stream owned by the
// connection. Idempotent; safe against concurrent stop_transcription.
func (c *Client) releaseStreams() {
	c.streamsMu.Lock()
	streams := c.streams
	c.streams = make(map[string]upstream.Stream)
	c.streamsMu.Unlock()

	for sessionID, stream := range streams {
		_ = stream.Close()
		c.hub.sampler.Forget(sessionID)
	}
}

func (c *Client) putStream(sessionID string, stream upstream.Stream) {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	c.streams[sessionID] = stream
}

func (c *Client) getStream(sessionID string) (upstream.Stream, bool) {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	stream, ok := c.streams[sessionID]
	return stream, ok
}

func (c *Client) takeStream(sessionID string) (upstream.Stream, bool) {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	stream, ok := c.streams[sessionID]
	if ok {
		delete(c.streams, sessionID)
	}
	return stream, ok
}
