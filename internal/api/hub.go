package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/sqlitetool/internal/command"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/config"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/logging"
	"github.com/nerrad567/sqlitetool/internal/store"
)

// ChannelStoreChanged carries a StoreChange after every successful write.
const ChannelStoreChanged = "store.changed"

// StoreChange is the event payload broadcast on ChannelStoreChanged.
type StoreChange struct {
	Op      string `json:"op"`
	DB      string `json:"db"`
	Table   string `json:"table,omitempty"`
	Result  string `json:"result"`
	Count   int64  `json:"count"`
	RowID   int64  `json:"inserted_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Hub tracks live WebSocket sessions and fans events out to the ones
// subscribed to a channel.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	mu       sync.RWMutex
	sessions map[*wsSession]struct{}
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[*wsSession]struct{}),
	}
}

// Run blocks until ctx is done and then stops every session.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[*wsSession]struct{})
	h.mu.Unlock()

	for s := range sessions {
		s.stop()
	}
}

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) add(s *wsSession) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(s *wsSession) {
	h.mu.Lock()
	delete(h.sessions, s)
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast encodes payload once as an event frame and queues it for
// every session subscribed to channel. Slow sessions drop the frame.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: channel}, payload)
	if err != nil {
		h.logger.Error("failed to encode broadcast", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsSession, 0, len(h.sessions))
	for s := range h.sessions {
		if s.channels.has(channel) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.enqueue(frame) {
			delivered++
		}
	}
	if len(targets) > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", delivered, "dropped", len(targets)-delivered)
	}
}

// observe is the dispatcher hook. It counts every operation and
// broadcasts successful writes.
func (s *Server) observe(_ context.Context, req command.Request, env store.Envelope) {
	s.stats.record(req.Op, env)

	if !env.OK() || !command.IsWrite(req) {
		return
	}
	s.hub.Broadcast(ChannelStoreChanged, StoreChange{
		Op:      req.Op,
		DB:      req.DB,
		Table:   req.Table,
		Result:  string(env.Kind),
		Count:   env.Count(),
		RowID:   env.InsertedID,
		Message: env.Message,
	})
}

// encodeFrame stamps msg, attaches payload (when non-nil) and marshals it.
func encodeFrame(msg WSMessage, payload any) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = raw
	}
	return json.Marshal(msg)
}

// channelSet is a session's subscriptions, safe for concurrent use.
type channelSet struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

func (c *channelSet) has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.set[name]
	return ok
}

func (c *channelSet) update(names []string, subscribe bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set == nil {
		c.set = make(map[string]struct{})
	}
	for _, n := range names {
		if subscribe {
			c.set[n] = struct{}{}
		} else {
			delete(c.set, n)
		}
	}
}
