package chathub_test

import (
	"alumnet/backend/internal/chathub"
	"alumnet/backend/internal/messages"
	"alumnet/backend/internal/models"
	"alumnet/backend/internal/network"
	"alumnet/backend/internal/pubsub"
	"alumnet/backend/internal/retry"
	"alumnet/backend/internal/storage"
	"alumnet/backend/internal/storage/storagetest"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const waitFor = 2 * time.Second

type fixture struct {
	store    *storage.Service
	broker   *pubsub.MemoryBroker
	hub      *chathub.ManagerService
	network  *network.Service
	messages *messages.Service
}

func newFixture(t *testing.T, buffer int) *fixture {
	t.Helper()
	store := storagetest.NewService(t)
	broker := pubsub.NewMemoryBroker()
	hub := chathub.NewManagerService(broker, buffer, zap.NewNop())
	retryCfg := retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &fixture{
		store:    store,
		broker:   broker,
		hub:      hub,
		network:  network.NewService(store, broker, retryCfg, zap.NewNop()),
		messages: messages.NewService(store, broker, retryCfg, zap.NewNop()),
	}
}

func (f *fixture) connect(t *testing.T, sender, receiver string, decision models.Decision) *models.Connection {
	t.Helper()
	ctx := context.Background()
	conn, err := f.network.Request(ctx, sender, receiver)
	require.NoError(t, err)
	conn, err = f.network.Respond(ctx, conn.ID, receiver, decision)
	require.NoError(t, err)
	return conn
}

func (f *fixture) open(t *testing.T, connectionID, viewer string) *chathub.Session {
	t.Helper()
	s, err := chathub.OpenSession(context.Background(), f.hub, f.messages, zap.NewNop(), connectionID, viewer)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func publish(t *testing.T, broker pubsub.Broker, msg models.Message) {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, broker.Publish(context.Background(), "messages", payload))
}

func nextUpdate(t *testing.T, s *chathub.Session) models.Message {
	t.Helper()
	select {
	case m, ok := <-s.Updates():
		require.True(t, ok, "session ended")
		return m
	case <-time.After(waitFor):
		t.Fatal("no update")
	}
	return models.Message{}
}

func nextEvent(t *testing.T, sub *chathub.Subscription) (chathub.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		return ev, ok
	case <-time.After(waitFor):
		t.Fatal("no event")
	}
	return chathub.Event{}, false
}

func contents(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
