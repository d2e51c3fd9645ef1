// Package mqtt provides MQTT client connectivity for sqlitetool.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - The request/response topic hierarchy (see Topics)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllRequests(), client.QoS(),
//	    func(topic string, payload []byte) error {
//	        op, _ := client.Topics().ParseRequest(topic)
//	        ...
//	    })
//
// TLS is enabled with mqtt.broker.tls; payloads are not encrypted beyond
// the transport.
package mqtt
