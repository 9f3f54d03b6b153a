package messages_test

import (
	"alumnet/backend/internal/config"
	"alumnet/backend/internal/messages"
	"alumnet/backend/internal/models"
	"alumnet/backend/internal/pubsub"
	"alumnet/backend/internal/retry"
	"alumnet/backend/internal/storage"
	"alumnet/backend/internal/storage/storagetest"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setup(t *testing.T) (*messages.Service, *storage.Service, *pubsub.MemoryBroker, *models.Connection) {
	t.Helper()
	store := storagetest.NewService(t)
	broker := pubsub.NewMemoryBroker()
	svc := messages.NewService(store, broker, retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond}, zap.NewNop())

	ctx := context.Background()
	conn, err := store.CreateConnection(ctx, "A", "B")
	require.NoError(t, err)
	conn, err = store.RespondConnection(ctx, conn.ID, "B", models.DecisionAccept)
	require.NoError(t, err)
	return svc, store, broker, conn
}

func TestAppend_PublishesCommittedMessage(t *testing.T) {
	svc, _, broker, conn := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deliveries, err := broker.Subscribe(ctx, config.MessagesChannel)
	require.NoError(t, err)

	msg, err := svc.Append(ctx, conn.ID, "A", "Hello")
	require.NoError(t, err)

	select {
	case d := <-deliveries:
		var relayed models.Message
		require.NoError(t, json.Unmarshal(d.Payload, &relayed))
		assert.Equal(t, msg.ID, relayed.ID)
		assert.Equal(t, "Hello", relayed.Content)
		assert.Equal(t, conn.ID, relayed.ConnectionID)
	case <-time.After(time.Second):
		t.Fatal("message was not relayed")
	}
}

func TestAppend_FailuresAreNotPublished(t *testing.T) {
	svc, _, broker, conn := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deliveries, err := broker.Subscribe(ctx, config.MessagesChannel)
	require.NoError(t, err)

	_, err = svc.Append(ctx, conn.ID, "C", "intruder")
	assert.ErrorIs(t, err, storage.ErrNotAParty)
	_, err = svc.Append(ctx, conn.ID, "A", "   ")
	assert.ErrorIs(t, err, storage.ErrEmptyContent)

	select {
	case d := <-deliveries:
		t.Fatalf("unexpected delivery %s", d.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHistoryFor(t *testing.T) {
	svc, _, _, conn := setup(t)
	ctx := context.Background()
	_, err := svc.Append(ctx, conn.ID, "A", "Hello")
	require.NoError(t, err)
	_, err = svc.Append(ctx, conn.ID, "B", "Hi")
	require.NoError(t, err)

	for _, viewer := range []string{"A", "B"} {
		history, err := svc.HistoryFor(ctx, viewer, conn.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "Hello", history[0].Content)
		assert.Equal(t, "Hi", history[1].Content)
	}

	_, err = svc.HistoryFor(ctx, "C", conn.ID)
	assert.ErrorIs(t, err, storage.ErrNotAParty)

	_, err = svc.HistoryFor(ctx, "A", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAppend_WithoutBroker(t *testing.T) {
	_, store, _, conn := setup(t)
	svc := messages.NewService(store, nil, retry.DefaultConfig(), nil)

	msg, err := svc.Append(context.Background(), conn.ID, "B", "no relay configured")

	require.NoError(t, err)
	assert.Equal(t, "no relay configured", msg.Content)
}

// hangUpStore cancels the caller's context as soon as the message commits.
type hangUpStore struct {
	*storage.Service
	cancel context.CancelFunc
}

func (s hangUpStore) AppendMessage(ctx context.Context, connectionID, senderID, content string) (*models.Message, error) {
	msg, err := s.Service.AppendMessage(ctx, connectionID, senderID, content)
	s.cancel()
	return msg, err
}

func TestAppend_RelaysAfterCallerGoesAway(t *testing.T) {
	_, store, broker, conn := setup(t)
	subCtx, stop := context.WithCancel(context.Background())
	defer stop()
	deliveries, err := broker.Subscribe(subCtx, config.MessagesChannel)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	svc := messages.NewService(hangUpStore{store, cancel}, broker, retry.DefaultConfig(), zap.NewNop())

	msg, err := svc.Append(ctx, conn.ID, "A", "sent just before hanging up")
	require.NoError(t, err)
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	select {
	case d := <-deliveries:
		var relayed models.Message
		require.NoError(t, json.Unmarshal(d.Payload, &relayed))
		assert.Equal(t, msg.ID, relayed.ID)
	case <-time.After(time.Second):
		t.Fatal("committed message was not relayed")
	}
}
