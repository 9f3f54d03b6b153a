package chathub

import (
	"alumnet/backend/internal/config"
	"alumnet/backend/internal/models"
	"alumnet/backend/internal/storage"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketClient implements Client over a gorilla WebSocket.
type WebSocketClient struct {
	Conn    *websocket.Conn
	Session *Session
	Send    chan models.ChatFrame
	Log     *zap.Logger

	done chan struct{}
	once sync.Once
}

var _ Client = (*WebSocketClient)(nil)

func NewWebSocketClient(conn *websocket.Conn, session *Session, log *zap.Logger) *WebSocketClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebSocketClient{
		Conn:    conn,
		Session: session,
		Send:    make(chan models.ChatFrame, config.ClientSendSize),
		Log:     log.With(zap.String("connection", session.ConnectionID), zap.String("user", session.Viewer)),
		done:    make(chan struct{}),
	}
}

func (c *WebSocketClient) GetUserID() string                        { return c.Session.Viewer }
func (c *WebSocketClient) GetConnectionID() string                  { return c.Session.ConnectionID }
func (c *WebSocketClient) GetSendChannel() chan<- models.ChatFrame { return c.Send }

// Run queues the initial history frame and starts the pumps.
func (c *WebSocketClient) Run() {
	c.Send <- models.ChatFrame{Type: models.FrameHistory, Messages: c.Session.History()}
	go c.writePump()
	go c.readPump()
}

func (c *WebSocketClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.Session.Close()
	})
}

func (c *WebSocketClient) push(frame models.ChatFrame) bool {
	select {
	case c.Send <- frame:
		return true
	case <-c.done:
		return false
	}
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(config.MaxFrameSize)
	c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Log.Warn("websocket read", zap.Error(err))
			}
			return
		}

		var frame models.ChatFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type != models.FrameSend {
			if !c.push(models.ChatFrame{Type: models.FrameError, Error: "invalid_frame"}) {
				return
			}
			continue
		}

		msg, err := c.Session.Send(c.Session.Context(), frame.ClientRef, frame.Content)
		reply := models.ChatFrame{Type: models.FrameAck, ClientRef: frame.ClientRef, Message: msg}
		if err != nil {
			c.Log.Info("send rejected", zap.Error(err))
			reply = models.ChatFrame{Type: models.FrameError, ClientRef: frame.ClientRef, Error: errorCode(err)}
		}
		if !c.push(reply) {
			return
		}
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	updates := c.Session.Updates()
	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-c.Send:
			if !c.write(frame) {
				return
			}

		case msg, ok := <-updates:
			if !ok {
				if err := c.Session.Err(); err != nil {
					c.write(models.ChatFrame{Type: models.FrameError, Error: errorCode(err)})
				}
				c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.write(models.ChatFrame{Type: models.FrameMessage, Message: &msg}) {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WebSocketClient) write(frame models.ChatFrame) bool {
	c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
	if err := c.Conn.WriteJSON(frame); err != nil {
		c.Log.Debug("websocket write", zap.Error(err))
		return false
	}
	return true
}

// errorCode is the code sent in error frames; failures outside the domain
// taxonomy are not described to the client.
func errorCode(err error) string {
	if code := storage.ErrorCode(err); code != "" {
		return code
	}
	return "internal"
}
