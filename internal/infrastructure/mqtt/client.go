package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/sqlitetool/internal/infrastructure/config"
)

// Logger receives handler failures and connection loss. *logging.Logger
// and *slog.Logger both satisfy it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one message. It runs on a paho goroutine; a
// returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// Client is a paho client that remembers its subscriptions across
// reconnects and keeps a retained online/offline status on
// {prefix}/system/status. Methods are safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	connected atomic.Bool

	subMu sync.RWMutex
	subs  map[string]subscription

	hookMu sync.RWMutex
	hooks  hooks
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

type hooks struct {
	onConnect    func()
	onDisconnect func(error)
	log          Logger
}

// Connect dials the broker and blocks until the first connection
// succeeds or defaultConnectTimeout passes. Reconnects afterwards are
// handled by paho.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		topics: Topics{Prefix: cfg.TopicPrefix},
		subs:   make(map[string]subscription),
	}

	opts := newClientOptions(cfg, c.topics)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onLost(err) })
	c.paho = pahomqtt.NewClient(opts)

	if err := awaitTokenFor(c.paho.Connect(), ErrConnectionFailed, defaultConnectTimeout); err != nil {
		return nil, err
	}
	// The connect handler runs asynchronously.
	c.connected.Store(true)
	return c, nil
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics { return c.topics }

// QoS returns the configured default QoS.
func (c *Client) QoS() byte { return byte(c.cfg.QoS) }

// ClientID returns the configured MQTT client ID.
func (c *Client) ClientID() string { return c.cfg.Broker.ClientID }

// IsConnected reports whether the client is currently connected.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.connected.Load() && c.paho.IsConnected()
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close marks the client offline (retained) and disconnects.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.paho.Publish(c.topics.SystemStatus(), c.QoS(), true,
			encodeStatus("offline", c.ClientID(), "graceful_shutdown")).WaitTimeout(defaultPublishTimeout)
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// SetOnConnect registers fn to run after the first connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.hookMu.Lock()
	c.hooks.onConnect = fn
	c.hookMu.Unlock()
}

// SetOnDisconnect registers fn to run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hookMu.Lock()
	c.hooks.onDisconnect = fn
	c.hookMu.Unlock()
}

// SetLogger sets where handler errors and panics are reported.
func (c *Client) SetLogger(l Logger) {
	c.hookMu.Lock()
	c.hooks.log = l
	c.hookMu.Unlock()
}

func (c *Client) currentHooks() hooks {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return c.hooks
}

func (c *Client) onConnected() {
	c.connected.Store(true)

	c.subMu.RLock()
	for topic, sub := range c.subs {
		// A failed resubscribe shows up as the next connection loss.
		c.paho.Subscribe(topic, sub.qos, c.deliver(sub.handler))
	}
	c.subMu.RUnlock()

	c.paho.Publish(c.topics.SystemStatus(), c.QoS(), true, encodeStatus("online", c.ClientID(), ""))

	if h := c.currentHooks(); h.onConnect != nil {
		h.onConnect()
	}
}

func (c *Client) onLost(err error) {
	c.connected.Store(false)

	h := c.currentHooks()
	if h.log != nil {
		h.log.Warn("MQTT connection lost", "error", err)
	}
	if h.onDisconnect != nil {
		h.onDisconnect(err)
	}
}

// deliver adapts handler to paho, recovering panics and logging errors.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		log := c.currentHooks().log
		defer func() {
			if r := recover(); r != nil && log != nil {
				log.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil && log != nil {
			log.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
