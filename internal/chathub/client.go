package chathub

import "alumnet/backend/internal/models"

// Client is a transport attached to one chat session.
type Client interface {
	GetUserID() string
	GetConnectionID() string

	// GetSendChannel accepts frames to be written to the client.
	GetSendChannel() chan<- models.ChatFrame

	// Run starts the client's read and write pumps.
	Run()
	// Close stops the pumps and closes the underlying session.
	Close()
}
