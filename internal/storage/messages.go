package storage

import (
	"alumnet/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppendMessage stores a message on an accepted connection. Accepted is a
// terminal status, so the check cannot be invalidated before the insert commits.
func (s *Service) AppendMessage(ctx context.Context, connectionID, senderID, content string) (*models.Message, error) {
	var msg *models.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conn models.Connection
		if err := tx.Where("id = ?", connectionID).First(&conn).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if conn.Status != models.ConnectionStatusAccepted {
			return ErrNotConnected
		}
		if !conn.HasParty(senderID) {
			return ErrNotAParty
		}

		content = strings.TrimSpace(content)
		if content == "" {
			return ErrEmptyContent
		}

		msg = &models.Message{
			ConnectionID: connectionID,
			SenderID:     senderID,
			Content:      content,
			CreatedAt:    time.Now().UTC(),
		}
		return tx.Create(msg).Error
	})
	if err != nil {
		if IsDomainError(err) {
			return nil, err
		}
		s.Log.Error("append message", zap.String("connection", connectionID), zap.Error(err))
		return nil, fmt.Errorf("append message to %s: %w", connectionID, err)
	}
	return msg, nil
}

// ListHistory returns the full message log of a connection, oldest first.
// Every call is a fresh snapshot.
func (s *Service) ListHistory(ctx context.Context, connectionID string) ([]models.Message, error) {
	db := s.DB.WithContext(ctx)

	var exists int64
	if err := db.Model(&models.Connection{}).Where("id = ?", connectionID).Count(&exists).Error; err != nil {
		return nil, fmt.Errorf("lookup connection %s: %w", connectionID, err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	history := []models.Message{}
	if err := db.Where("connection_id = ?", connectionID).
		Order("created_at ASC, id ASC").
		Find(&history).Error; err != nil {
		return nil, fmt.Errorf("get chat history for %s: %w", connectionID, err)
	}
	return history, nil
}

// GetMessage returns a single message by id.
func (s *Service) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	err := s.DB.WithContext(ctx).First(&msg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return &msg, nil
}
