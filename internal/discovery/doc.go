// Package discovery announces devices to Home Assistant over MQTT.
//
// On every broker (re)connect the bridge publishes one retained switch
// config per device:
//
//	homeassistant/switch/<object_id>/config
//
// The object id is derived from the bridge id and the device name, so it is
// stable across restarts and distinct between bridges sharing a broker. Home
// Assistant then sends "1"/"0" to the device's command topic and follows its
// retained status topic. Availability follows the bridge's Last Will topic.
package discovery
