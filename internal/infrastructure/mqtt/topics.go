package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the base of every topic the bridge owns. Device status and
// command topics are configured per device and do not use it.
const TopicPrefix = "radioswitch"

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics provides builders for the bridge's own MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Availability("radioswitch") // "radioswitch/radioswitch/status"
type Topics struct{}

// Availability returns the retained online/offline topic, also used as the
// Last Will topic.
//
// Example: radioswitch/lounge/status
func (Topics) Availability(bridgeID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefix, bridgeID)
}

// Health returns the topic for periodic health reports.
//
// Example: radioswitch/lounge/health
func (Topics) Health(bridgeID string) string {
	return fmt.Sprintf("%s/%s/health", TopicPrefix, bridgeID)
}

// validatePublishTopic rejects empty topics and wildcards, which brokers
// refuse in PUBLISH packets.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}
