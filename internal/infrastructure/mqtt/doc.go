// Package mqtt provides MQTT client connectivity for the BLE bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Topic layout
//
// Device state, command, and availability topics all live under the
// configured prefix:
//
//	{prefix}/{plugin}/{deviceID}/{field}        state
//	{prefix}/{plugin}/{deviceID}/{field}/set    command
//	{prefix}/{plugin}/{deviceID}/availability   per-device availability
//	{prefix}/availability                       bridge availability (LWT)
//
// Availability payloads are the literal strings "online" and "offline",
// published retained, so Home Assistant entities track bridge and device
// liveness without templates.
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.Bridge.TopicPrefix)
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return registry.RouteCommand(topic, payload)
//	    })
package mqtt
