package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize bounds MQTT payloads in both directions (1MB).
const maxPayloadSize = 1 << 20

// Publish sends payload to topic. Only the system status topic is
// published retained.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopicQoS(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return awaitToken(c.paho.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// PublishJSON publishes a JSON payload with the configured default QoS,
// not retained.
func (c *Client) PublishJSON(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.QoS(), false)
}

func checkTopicQoS(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// awaitToken waits for a broker acknowledgement and wraps any failure in
// the operation's sentinel.
func awaitToken(token pahomqtt.Token, failed error) error {
	return awaitTokenFor(token, failed, defaultPublishTimeout)
}

func awaitTokenFor(token pahomqtt.Token, failed error, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: timeout after %v", failed, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", failed, err)
	}
	return nil
}
