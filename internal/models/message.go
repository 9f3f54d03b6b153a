package models

import "time"

// Message is a chat message persisted in the append-only log of one connection.
// IDs are assigned by the database in insertion order.
type Message struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ConnectionID string    `gorm:"type:text;not null;index:idx_connection_msg,priority:1" json:"connection_id"`
	SenderID     string    `gorm:"type:text;not null" json:"sender_id"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	CreatedAt    time.Time `gorm:"not null;index:idx_connection_msg,priority:2" json:"created_at"`
}

// Before reports whether m sorts before o: by creation time, then by id.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}
