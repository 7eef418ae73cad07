// Package bridge connects the device registry to the MQTT broker.
//
// The paho client delivers connection and message callbacks on its own
// goroutines. Service funnels both into one bounded queue consumed by a
// single dispatcher goroutine, so events reach the registry strictly in
// arrival order and a transmission (all repeats) finishes before the next
// event is looked at. Messages that arrive mid-transmission wait in the
// queue; an event that cannot be queued within the enqueue timeout is
// dropped and counted.
//
//	paho goroutines ──▶ events (chan, bounded) ──▶ dispatcher ──▶ Handler
//	                                                             (device.Registry)
//
// Service also implements device.MessageBridge, so devices subscribe and
// publish through it. Subscriptions made through Service always feed the
// queue.
//
// HealthReporter publishes a retained JSON health document to
// radioswitch/<bridge_id>/health and doubles as a device.Observer counting
// transmissions and failures.
package bridge
