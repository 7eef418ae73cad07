package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for messages on the specified topic.
//
// Subscribing again to the same topic replaces the handler. Subscriptions
// are tracked and restored if the connection is lost and re-established.
//
// Parameters:
//   - topic: The topic pattern to subscribe to (wildcards allowed)
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback function invoked for each message
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	previous, hadPrevious := c.subscriptions[topic]
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.untrack(topic, previous, hadPrevious)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.untrack(topic, previous, hadPrevious)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// untrack rolls back tracking after a failed subscribe.
func (c *Client) untrack(topic string, previous subscription, hadPrevious bool) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if hadPrevious {
		c.subscriptions[topic] = previous
		return
	}
	delete(c.subscriptions, topic)
}
