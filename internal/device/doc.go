// Package device maps MQTT command topics onto radio-controlled switches.
//
// A Device owns one remote mains socket: a status topic, a command topic and
// the pair of radio codes the socket reacts to. The Registry holds the static
// device list loaded at startup and routes broker events to it.
//
// # Architecture
//
//	bridge event loop
//	      │
//	      ├── OnConnected ──▶ Registry ──▶ Device.Announce ──┐
//	      │                                                   │
//	      └── OnMessage ────▶ Registry ──▶ Device.Handle ─────┤
//	                                                          ▼
//	                                  Device.Transition ──▶ radio.Transmitter
//	                                  Device.ReportStatus ─▶ MessageBridge
//
// # State
//
// Each device is either OFF or ON and starts OFF. The radio link has no
// acknowledgement, so the state is what the bridge last sent, not what the
// socket is doing. State changes before the transmission and stays changed
// when the transmission fails.
//
// # Usage
//
//	lamp, err := device.New(device.Config{
//	    Name:         "LivingRoom:CornerLamp",
//	    StatusTopic:  "livingroom/lamp/status",
//	    CommandTopic: "livingroom/lamp/set",
//	    OnCode:       on,
//	    OffCode:      off,
//	}, device.Options{Bridge: bridge, Transmitter: tx, Logger: log})
//
//	registry := device.NewRegistry([]*device.Device{lamp}, log)
//
//	// On every (re)connect
//	registry.OnConnected(ctx)
//
//	// For every inbound message
//	registry.OnMessage(ctx, topic, payload)
//
// # Thread Safety
//
// Devices serialise their own transitions. The Registry is immutable after
// construction. The bridge delivers events one at a time so transmissions
// never overlap.
package device
