package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/sqlitetool/internal/auth"
	"github.com/nerrad567/sqlitetool/internal/command"
)

// Frame types exchanged over /ws.
const (
	WSTypeCommand     = "command"
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// outboundQueue bounds frames waiting for a slow client.
const outboundQueue = 256

// WSMessage is one frame in either direction.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Origin is enforced by the CORS middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsSession is one upgraded connection. Frames are queued on out and
// written by writeLoop; done is closed exactly once by stop.
type wsSession struct {
	hub        *Hub
	conn       *websocket.Conn
	dispatcher *command.Dispatcher
	claims     *auth.CustomClaims // nil when auth is disabled
	ctx        context.Context

	channels channelSet
	out      chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

// handleWebSocket upgrades the request. Authentication, when enabled,
// has already run in requireToken.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sess := &wsSession{
		hub:        s.hub,
		conn:       conn,
		dispatcher: s.dispatcher,
		claims:     claimsFrom(r.Context()),
		ctx:        context.WithoutCancel(r.Context()),
		out:        make(chan []byte, outboundQueue),
		done:       make(chan struct{}),
	}
	s.hub.add(sess)

	go sess.writeLoop()
	go sess.readLoop()
}

// stop closes the connection and releases both loops.
func (c *wsSession) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// enqueue queues a frame without blocking. It reports false when the
// session is gone or its queue is full.
func (c *wsSession) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- frame:
		return true
	default:
		return false
	}
}

func (c *wsSession) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.stop()
	}()

	cfg := c.hub.cfg
	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	_ = extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		_ = extend("")
		c.dispatch(data)
	}
}

func (c *wsSession) writeLoop() {
	cfg := c.hub.cfg
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer ping.Stop()
	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	write := func(kind int, data []byte) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data) == nil
	}

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			if !write(websocket.TextMessage, frame) {
				c.stop()
				return
			}
		case <-ping.C:
			if !write(websocket.PingMessage, nil) {
				c.stop()
				return
			}
		}
	}
}

// dispatch routes one inbound frame by type.
func (c *wsSession) dispatch(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeCommand:
		c.runCommand(msg)
	case WSTypeSubscribe:
		c.updateChannels(msg, true)
	case WSTypeUnsubscribe:
		c.updateChannels(msg, false)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.fail(msg.ID, "unknown message type: "+msg.Type)
	}
}

// runCommand executes a command.Request and replies with its envelope.
func (c *wsSession) runCommand(msg WSMessage) {
	var req command.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		c.fail(msg.ID, "invalid command payload: "+err.Error())
		return
	}
	if err := authorize(c.claims, req); err != nil {
		c.fail(msg.ID, err.Error())
		return
	}
	c.reply(msg.ID, WSTypeResponse, c.dispatcher.Dispatch(c.ctx, req))
}

func (c *wsSession) updateChannels(msg WSMessage, subscribe bool) {
	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
	}

	var sub WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		c.fail(msg.ID, "invalid "+msg.Type+" payload")
		return
	}
	c.channels.update(sub.Channels, subscribe)
	c.hub.logger.Debug("websocket subscriptions changed", key, sub.Channels)

	c.reply(msg.ID, WSTypeResponse, map[string][]string{key: sub.Channels})
}

func (c *wsSession) reply(id, msgType string, payload any) {
	frame, err := encodeFrame(WSMessage{Type: msgType, ID: id}, payload)
	if err != nil {
		c.hub.logger.Error("failed to encode websocket reply", "error", err)
		return
	}
	c.enqueue(frame)
}

func (c *wsSession) fail(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
