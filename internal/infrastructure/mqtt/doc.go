// Package mqtt provides MQTT client connectivity for the cast bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// MQTT is the generic event/instruction channel between the bridge and the
// orchestrator:
//
//	cast devices ↔ castbridge ↔ MQTT broker ↔ orchestrator
//
// The bridge publishes sparse state, media events, acks and health, and
// subscribes to graylogic/command/cast/+ for instructions.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllBridgeCommands("cast"), 1,
//	    func(topic string, payload []byte) error {
//	        return router.HandleMessage(topic, payload)
//	    })
package mqtt
