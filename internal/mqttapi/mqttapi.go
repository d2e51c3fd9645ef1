// Package mqttapi serves store operations over MQTT request/response topics.
//
// A caller publishes a JSON request to {prefix}/request/{op}:
//
//	{"request_id": "r1", "client_id": "job-7", "table": "users", "data": {"name": "a"}}
//
// and receives the result on {prefix}/response/{client_id}/{request_id}:
//
//	{"request_id": "r1", "op": "insert", "result": {"kind": "inserted_id", "inserted_id": 1}, "timestamp": "..."}
//
// request_id defaults to a generated UUID and client_id to "anonymous".
// Successful writes from any transport are announced on
// {prefix}/event/changed.
package mqttapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sqlitetool/internal/command"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/logging"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/mqtt"
	"github.com/nerrad567/sqlitetool/internal/store"
)

// anonymousClient is the response topic segment for requests without a client_id.
const anonymousClient = "anonymous"

// Transport is the subset of *mqtt.Client the responder needs.
type Transport interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// RequestMessage is the payload of a request topic. The op comes from the
// topic and overrides any op in the body.
type RequestMessage struct {
	RequestID string `json:"request_id"`
	ClientID  string `json:"client_id"`
	command.Request
}

// ResponseMessage is published on the response topic.
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Op        string         `json:"op"`
	Result    store.Envelope `json:"result"`
	Timestamp string         `json:"timestamp"`
}

// ChangeMessage is published on the changed topic after a successful write.
type ChangeMessage struct {
	Op        string `json:"op"`
	DB        string `json:"db"`
	Table     string `json:"table,omitempty"`
	Result    string `json:"result"`
	Count     int64  `json:"count"`
	Timestamp string `json:"timestamp"`
}

// Responder subscribes to request topics and answers them through a
// command.Dispatcher.
type Responder struct {
	transport  Transport
	topics     mqtt.Topics
	qos        byte
	dispatcher *command.Dispatcher
	logger     *logging.Logger
}

// New creates a Responder. It does not subscribe until Start.
func New(transport Transport, topics mqtt.Topics, qos byte, dispatcher *command.Dispatcher, logger *logging.Logger) *Responder {
	return &Responder{
		transport:  transport,
		topics:     topics,
		qos:        qos,
		dispatcher: dispatcher,
		logger:     logger.With("component", "mqttapi"),
	}
}

// Start subscribes to every request topic and registers the change
// announcer with the dispatcher.
func (r *Responder) Start(ctx context.Context) error {
	topic := r.topics.AllRequests()
	err := r.transport.Subscribe(topic, r.qos, func(t string, payload []byte) error {
		return r.handle(ctx, t, payload)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	r.dispatcher.Observe(r.announce)
	r.logger.Info("MQTT request handler subscribed", "topic", topic)
	return nil
}

// handle answers one request message.
func (r *Responder) handle(ctx context.Context, topic string, payload []byte) error {
	op, ok := r.topics.ParseRequest(topic)
	if !ok {
		return fmt.Errorf("not a request topic: %s", topic)
	}

	var msg RequestMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		// Without a decodable body there is no reply address.
		return fmt.Errorf("decoding %s request: %w", op, err)
	}
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	if msg.ClientID == "" {
		msg.ClientID = anonymousClient
	}
	if !mqtt.ValidSegment(msg.ClientID) || !mqtt.ValidSegment(msg.RequestID) {
		return fmt.Errorf("invalid client_id %q or request_id %q", msg.ClientID, msg.RequestID)
	}

	msg.Op = op
	env := r.dispatcher.Dispatch(ctx, msg.Request)

	reply, err := json.Marshal(ResponseMessage{
		RequestID: msg.RequestID,
		Op:        op,
		Result:    env,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding %s response: %w", op, err)
	}

	replyTopic := r.topics.Response(msg.ClientID, msg.RequestID)
	if err := r.transport.Publish(replyTopic, reply, r.qos, false); err != nil {
		return fmt.Errorf("publishing response to %s: %w", replyTopic, err)
	}
	return nil
}

// announce publishes successful writes from any transport.
func (r *Responder) announce(_ context.Context, req command.Request, env store.Envelope) {
	if !env.OK() || !command.IsWrite(req) {
		return
	}

	payload, err := json.Marshal(ChangeMessage{
		Op:        req.Op,
		DB:        req.DB,
		Table:     req.Table,
		Result:    string(env.Kind),
		Count:     env.Count(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		r.logger.Error("encoding change event", "error", err)
		return
	}
	if err := r.transport.Publish(r.topics.Changed(), payload, r.qos, false); err != nil {
		r.logger.Warn("publishing change event", "error", err)
	}
}
