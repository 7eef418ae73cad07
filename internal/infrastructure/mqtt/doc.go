// Package mqtt provides MQTT client connectivity for the radio switch bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect after a drop
//   - Message publishing with QoS guarantees
//   - Topic subscriptions, restored automatically on reconnect
//   - Availability reporting: retained "online" on connect, "offline" on
//     Close and as the Last Will
//
// # Topics
//
// Device status and command topics come from configuration. The bridge's
// own topics live under radioswitch/<client_id>/:
//
//	radioswitch/<client_id>/status   online | offline (retained)
//	radioswitch/<client_id>/health   JSON health report (retained)
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT)
//	client.SetLogger(logger)
//	client.SetOnConnect(service.HandleConnect)
//	if err := client.Connect(); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err := client.Subscribe("livingroom/lamp/set", 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
//
// Handlers run on paho's delivery goroutine. Calling Publish or Subscribe
// from inside a handler can deadlock the client, which is why the bridge
// hands every message to its own event loop.
package mqtt
