package pubsub

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker fans events out through Redis Pub/Sub.
type RedisBroker struct {
	Redis *redis.Client
	Log   *zap.Logger
}

func NewRedisBroker(rdb *redis.Client, log *zap.Logger) *RedisBroker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBroker{Redis: rdb, Log: log}
}

// Publish sends payload to every subscriber of channel across instances.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.Redis.Publish(ctx, channel, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) (<-chan Delivery, error) {
	ps := b.Redis.Subscribe(ctx, channels...)

	// Wait until Redis confirms every channel so nothing published after
	// Subscribe returns can be missed. Messages on channels confirmed early
	// are held and delivered first.
	confirmed := make(map[string]bool, len(channels))
	var early []Delivery
	for len(confirmed) < len(channels) {
		msg, err := ps.Receive(ctx)
		if err != nil {
			ps.Close()
			return nil, fmt.Errorf("subscribe %v: %w", channels, err)
		}
		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				confirmed[m.Channel] = true
			}
		case *redis.Message:
			early = append(early, Delivery{Channel: m.Channel, Payload: []byte(m.Payload)})
		}
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ps.Close()

		send := func(d Delivery) bool {
			select {
			case out <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, d := range early {
			if !send(d) {
				return
			}
		}

		ch := ps.ChannelWithSubscriptions()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var d Delivery
				switch m := raw.(type) {
				case *redis.Message:
					d = Delivery{Channel: m.Channel, Payload: []byte(m.Payload)}
				case *redis.Subscription:
					if m.Kind != "subscribe" {
						continue
					}
					// go-redis re-subscribes after a reconnect and reports it here.
					b.Log.Warn("redis subscription restored", zap.String("channel", m.Channel))
					d = Delivery{Channel: m.Channel, Resync: true}
				default:
					continue
				}
				if !send(d) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBroker) Close() error {
	return b.Redis.Close()
}
