package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outgoing payloads. Switch states and discovery
// documents are far smaller.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message to the specified MQTT topic and waits for the
// broker to acknowledge it (QoS 1 and 2).
//
// Parameters:
//   - topic: The topic to publish to, without wildcards
//   - payload: The message payload (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Device status is published at QoS 2 and retained, so a subscriber that
// connects later sees the last reported state exactly once.
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublishTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
