// Package messages appends to and reads the per-connection message log, and
// announces every committed message on the broker for the realtime relay.
package messages

import (
	"alumnet/backend/internal/config"
	"alumnet/backend/internal/models"
	"alumnet/backend/internal/pubsub"
	"alumnet/backend/internal/retry"
	"alumnet/backend/internal/storage"
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

type Service struct {
	Store  storage.Storage
	Broker pubsub.Broker
	Retry  retry.Config
	Log    *zap.Logger
}

func NewService(store storage.Storage, broker pubsub.Broker, retryCfg retry.Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Store: store, Broker: broker, Retry: retryCfg, Log: log}
}

// Append stores a message and relays it to open chat sessions. It is never
// retried: a second attempt after an ambiguous failure could store the
// message twice. The publish runs detached from ctx, so a caller that goes
// away after the commit still gets its message relayed. A failed publish is
// only logged; subscribers recover the message on their next history fetch.
func (s *Service) Append(ctx context.Context, connectionID, senderID, content string) (*models.Message, error) {
	msg, err := s.Store.AppendMessage(ctx, connectionID, senderID, content)
	if err != nil {
		return nil, err
	}

	if s.Broker != nil {
		payload, err := json.Marshal(msg)
		if err == nil {
			pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.PublishTimeout)
			err = s.Broker.Publish(pubCtx, config.MessagesChannel, payload)
			cancel()
		}
		if err != nil {
			s.Log.Warn("relay message", zap.Uint("message", msg.ID), zap.String("connection", connectionID), zap.Error(err))
		}
	}
	return msg, nil
}

// ListHistory returns the full ordered history of a connection.
func (s *Service) ListHistory(ctx context.Context, connectionID string) ([]models.Message, error) {
	var history []models.Message
	err := retry.Do(ctx, s.Retry, s.Log, "list_history", func(ctx context.Context) error {
		var err error
		history, err = s.Store.ListHistory(ctx, connectionID)
		return err
	})
	return history, err
}

// HistoryFor returns the history of a connection the viewer is a party to.
func (s *Service) HistoryFor(ctx context.Context, viewer, connectionID string) ([]models.Message, error) {
	if err := s.Authorize(ctx, viewer, connectionID); err != nil {
		return nil, err
	}
	return s.ListHistory(ctx, connectionID)
}

// Authorize checks that viewer is one of the two users of the connection.
func (s *Service) Authorize(ctx context.Context, viewer, connectionID string) error {
	var conn *models.Connection
	err := retry.Do(ctx, s.Retry, s.Log, "get_connection", func(ctx context.Context) error {
		var err error
		conn, err = s.Store.GetConnection(ctx, connectionID)
		return err
	})
	if err != nil {
		return err
	}
	if !conn.HasParty(viewer) {
		return storage.ErrNotAParty
	}
	return nil
}
