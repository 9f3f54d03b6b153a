package storage

import (
	"alumnet/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateConnection records a pending request from senderID to receiverID.
func (s *Service) CreateConnection(ctx context.Context, senderID, receiverID string) (*models.Connection, error) {
	if senderID == "" || receiverID == "" {
		return nil, fmt.Errorf("%w: sender and receiver are required", ErrInvalidRequest)
	}
	if senderID == receiverID {
		return nil, fmt.Errorf("%w: cannot send a connection request to yourself", ErrInvalidRequest)
	}

	pair := models.PairKey(senderID, receiverID)
	conn := &models.Connection{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Status:     models.ConnectionStatusPending,
		ActivePair: &pair,
		CreatedAt:  time.Now().UTC(),
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&models.Connection{}).
			Where("active_pair = ?", pair).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return ErrDuplicateActive
		}
		return tx.Create(conn).Error
	})

	switch {
	case err == nil:
		return conn, nil
	case errors.Is(err, ErrDuplicateActive), errors.Is(err, gorm.ErrDuplicatedKey):
		// The unique index on active_pair catches a concurrent request the count missed.
		return nil, ErrDuplicateActive
	default:
		s.Log.Error("create connection", zap.String("sender", senderID), zap.String("receiver", receiverID), zap.Error(err))
		return nil, fmt.Errorf("create connection: %w", err)
	}
}

// RespondConnection moves a pending connection to accepted or rejected on behalf
// of its receiver. The update is conditional on the row still being pending, so
// two racing responses cannot both succeed.
func (s *Service) RespondConnection(ctx context.Context, connectionID, responderID string, decision models.Decision) (*models.Connection, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("%w: unknown decision %q", ErrInvalidRequest, decision)
	}

	var conn models.Connection
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", connectionID).First(&conn).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if conn.ReceiverID != responderID {
			return ErrNotAuthorized
		}
		if conn.Status != models.ConnectionStatusPending {
			return ErrInvalidTransition
		}

		status := decision.Status()
		updates := map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}
		if status == models.ConnectionStatusRejected {
			// Rejected rows stop occupying the pair slot.
			updates["active_pair"] = nil
		}

		res := tx.Model(&models.Connection{}).
			Where("id = ? AND status = ?", connectionID, models.ConnectionStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}

		conn.Status = status
		if status == models.ConnectionStatusRejected {
			conn.ActivePair = nil
		}
		return nil
	})
	if err != nil {
		if IsDomainError(err) {
			return nil, err
		}
		s.Log.Error("respond to connection", zap.String("connection", connectionID), zap.Error(err))
		return nil, fmt.Errorf("respond to connection %s: %w", connectionID, err)
	}
	return &conn, nil
}

// GetConnection returns a connection by id.
func (s *Service) GetConnection(ctx context.Context, connectionID string) (*models.Connection, error) {
	var conn models.Connection
	err := s.DB.WithContext(ctx).Where("id = ?", connectionID).First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get connection %s: %w", connectionID, err)
	}
	return &conn, nil
}

// ListIncomingPending returns requests waiting on userID, newest first.
func (s *Service) ListIncomingPending(ctx context.Context, userID string) ([]models.Connection, error) {
	var conns []models.Connection
	if err := s.DB.WithContext(ctx).
		Where("receiver_id = ? AND status = ?", userID, models.ConnectionStatusPending).
		Order("created_at DESC, id DESC").
		Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("list incoming requests for %s: %w", userID, err)
	}
	return conns, nil
}

// ListAccepted returns every accepted connection userID is a party to.
func (s *Service) ListAccepted(ctx context.Context, userID string) ([]models.Connection, error) {
	var conns []models.Connection
	if err := s.DB.WithContext(ctx).
		Where("(sender_id = ? OR receiver_id = ?) AND status = ?", userID, userID, models.ConnectionStatusAccepted).
		Order("created_at ASC").
		Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("list accepted connections for %s: %w", userID, err)
	}
	return conns, nil
}

// ListForUser returns every connection touching userID in any status, oldest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]models.Connection, error) {
	var conns []models.Connection
	if err := s.DB.WithContext(ctx).
		Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Order("created_at ASC").
		Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("list connections for %s: %w", userID, err)
	}
	return conns, nil
}
