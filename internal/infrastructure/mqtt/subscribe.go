package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for topic.
//
// Topics may use MQTT wildcards:
//   - + (single-level): "camerabe/dom0/camera/+/state" matches every camera
//   - # (multi-level): "camerabe/#" matches every backend topic
//
// Handlers run on paho's goroutines, one call per message, and must not
// block: a slow handler delays every other message on the connection.
// The subscription is recorded and restored after a reconnect.
//
// Parameters:
//   - topic: topic or pattern to subscribe to
//   - qos: maximum QoS for delivered messages (0, 1 or 2)
//   - handler: called for each message; a returned error is logged
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or
//     ErrSubscribeFailed wrapping the broker's answer
//
// Example:
//
//	err := client.Subscribe(client.Topics().AllControlSets(), 1,
//	    func(topic string, payload []byte) error {
//	        id, control, _ := client.Topics().ParseControlSet(topic)
//	        return override(id, control, payload)
//	    })
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	// Validate inputs
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	// Refuse while offline; paho would queue silently
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Record first so a reconnect racing the SUBACK restores it
	c.subMu.Lock()
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	// Subscribe through the panic-safe wrapper
	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		// Not acknowledged: forget it so it is not restored later
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		// Rejected by the broker
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// Unsubscribe removes a subscription. Messages already in flight may
// still be delivered.
//
// Parameters:
//   - topic: the exact string given to Subscribe
//
// Returns:
//   - error: ErrInvalidTopic, ErrNotConnected, or ErrUnsubscribeFailed
func (c *Client) Unsubscribe(topic string) error {
	// Validate inputs
	if topic == "" {
		return ErrInvalidTopic
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Stop restoring it on reconnect before telling the broker
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// SubscriptionCount returns the number of active subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether exactly topic is subscribed; patterns
// are not matched.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
