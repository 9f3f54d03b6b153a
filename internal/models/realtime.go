package models

// Frame types exchanged over a chat WebSocket.
const (
	FrameHistory = "history"
	FrameMessage = "message"
	FrameAck     = "ack"
	FrameError   = "error"
	FrameSend    = "send"
)

// ChatFrame is the JSON envelope written to and read from a chat WebSocket.
type ChatFrame struct {
	Type      string    `json:"type"`
	ClientRef string    `json:"client_ref,omitempty"`
	Content   string    `json:"content,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	Messages  []Message `json:"messages,omitempty"`
	Error     string    `json:"error,omitempty"`
}
