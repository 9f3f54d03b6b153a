package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConnectionStatus is the lifecycle state of a Connection.
type ConnectionStatus string

const (
	ConnectionStatusPending  ConnectionStatus = "pending"
	ConnectionStatusAccepted ConnectionStatus = "accepted"
	ConnectionStatusRejected ConnectionStatus = "rejected"
)

// IsActive reports whether the status blocks a new request between the same pair.
func (s ConnectionStatus) IsActive() bool {
	return s == ConnectionStatusPending || s == ConnectionStatusAccepted
}

// Decision is the receiver's answer to a pending request.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	return d == DecisionAccept || d == DecisionReject
}

// Status returns the connection status the decision moves a pending connection to.
func (d Decision) Status() ConnectionStatus {
	if d == DecisionAccept {
		return ConnectionStatusAccepted
	}
	return ConnectionStatusRejected
}

// Connection is a relationship record between two users.
type Connection struct {
	// ID is the unique identifier of the connection (UUID).
	ID string `gorm:"primaryKey" json:"id"`
	// SenderID is the user who issued the request.
	SenderID string `gorm:"type:text;not null;index" json:"sender_id"`
	// ReceiverID is the user the request was sent to.
	ReceiverID string `gorm:"type:text;not null;index:idx_receiver_status" json:"receiver_id"`
	// Status is pending until the receiver responds, then accepted or rejected.
	Status ConnectionStatus `gorm:"type:text;not null;index:idx_receiver_status" json:"status"`
	// ActivePair holds PairKey(sender, receiver) while the connection is
	// pending or accepted and NULL once rejected. Its unique index is what keeps
	// a pair down to one active connection.
	ActivePair *string `gorm:"uniqueIndex" json:"-"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// BeforeCreate generates a UUID for the connection if none is set.
func (c *Connection) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return
}

// OtherParty returns the id of the user on the other side from userID.
// The second value is false when userID is not a party.
func (c *Connection) OtherParty(userID string) (string, bool) {
	switch userID {
	case c.SenderID:
		return c.ReceiverID, true
	case c.ReceiverID:
		return c.SenderID, true
	}
	return "", false
}

// HasParty reports whether userID is the sender or the receiver.
func (c *Connection) HasParty(userID string) bool {
	_, ok := c.OtherParty(userID)
	return ok
}

// PairKey is the order-independent key of the unordered pair {a, b}.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
