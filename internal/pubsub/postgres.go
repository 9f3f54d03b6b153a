package pubsub

import (
	"alumnet/backend/internal/config"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresBroker uses LISTEN/NOTIFY on the primary database as the change feed.
// NOTIFY payloads are limited to 8000 bytes by Postgres.
type PostgresBroker struct {
	DB  *sql.DB
	DSN string
	Log *zap.Logger
}

func NewPostgresBroker(dsn string, log *zap.Logger) (*PostgresBroker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open notify connection: %w", err)
	}
	return &PostgresBroker{DB: db, DSN: dsn, Log: log}, nil
}

func (b *PostgresBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := b.DB.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, string(payload))
	return err
}

func (b *PostgresBroker) Subscribe(ctx context.Context, channels ...string) (<-chan Delivery, error) {
	listener := pq.NewListener(b.DSN, config.ListenerMinReconnect, config.ListenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				b.Log.Warn("postgres listener event", zap.Int("event", int(ev)), zap.Error(err))
			}
		})

	for _, ch := range channels {
		if err := listener.Listen(ch); err != nil {
			listener.Close()
			return nil, fmt.Errorf("listen %s: %w", ch, err)
		}
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer listener.Close()

		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()

		for {
			var d Delivery
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				go listener.Ping()
				continue
			case n := <-listener.Notify:
				if n == nil {
					// pq sends nil after re-establishing the connection.
					b.Log.Warn("postgres listener reconnected")
					d = Delivery{Resync: true}
				} else {
					d = Delivery{Channel: n.Channel, Payload: []byte(n.Extra)}
				}
			}
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *PostgresBroker) Close() error {
	return b.DB.Close()
}
