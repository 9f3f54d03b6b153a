package handler

import (
	"alumnet/backend/internal/chathub"
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients are served from other origins; the token is the gate.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket opens a chat session on the connection and upgrades the
// request. The session outlives the request, so it gets a context that is not
// cancelled when the handler returns.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	userID := currentUser(c)
	connectionID := c.Param("id")

	session, err := chathub.OpenSession(context.WithoutCancel(c.Request.Context()), h.Hub, h.Messages, h.Log, connectionID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		session.Close()
		h.Log.Warn("websocket upgrade", zap.String("connection", connectionID), zap.Error(err))
		return
	}

	h.Log.Info("chat opened", zap.String("connection", connectionID), zap.String("user", userID))
	chathub.NewWebSocketClient(conn, session, h.Log).Run()
}
