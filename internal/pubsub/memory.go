package pubsub

import (
	"context"
	"sync"
)

type memorySub struct {
	channels map[string]bool
	out      chan Delivery
	done     chan struct{}
}

// MemoryBroker delivers events within one process. It suits single-instance
// deployments and tests; nothing crosses process boundaries.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[*memorySub]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[*memorySub]struct{})}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.deliver(ctx, Delivery{Channel: channel, Payload: payload})
}

// Resync tells every subscriber to treat its stream as restarted.
func (b *MemoryBroker) Resync(ctx context.Context) error {
	return b.deliver(ctx, Delivery{Resync: true})
}

func (b *MemoryBroker) deliver(ctx context.Context, d Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if !d.Resync && !sub.channels[d.Channel] {
			continue
		}
		select {
		case sub.out <- d:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channels ...string) (<-chan Delivery, error) {
	sub := &memorySub{
		channels: make(map[string]bool, len(channels)),
		out:      make(chan Delivery, 64),
		done:     make(chan struct{}),
	}
	for _, ch := range channels {
		sub.channels[ch] = true
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		close(sub.done)
		// Publishers holding the read lock bail out on done before we close out.
		b.mu.Lock()
		delete(b.subs, sub)
		close(sub.out)
		b.mu.Unlock()
	}()
	return sub.out, nil
}

// Subscribers returns the number of live subscriptions.
func (b *MemoryBroker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *MemoryBroker) Close() error {
	return nil
}
