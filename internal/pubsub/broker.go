// Package pubsub carries change events between service instances.
// Every backend reports a reconnect as a Delivery with Resync set, because
// anything published while the subscription was down is lost.
package pubsub

import "context"

// Delivery is one event received from a broker channel.
type Delivery struct {
	Channel string
	Payload []byte
	// Resync marks a restarted stream. Payload is empty; consumers should
	// re-read authoritative state instead of assuming a clean resume.
	Resync bool
}

// Broker publishes payloads to named channels and streams them back to subscribers.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns once the subscription is live. The returned channel is
	// closed after ctx is done.
	Subscribe(ctx context.Context, channels ...string) (<-chan Delivery, error)
	Close() error
}
