package handler

import (
	"alumnet/backend/internal/chathub"
	"alumnet/backend/internal/messages"
	"alumnet/backend/internal/network"
	"alumnet/backend/internal/storage"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler wires the HTTP and WebSocket surface to the services.
type Handler struct {
	Network  *network.Service
	Messages *messages.Service
	Hub      *chathub.ManagerService
	Auth     Auth
	Log      *zap.Logger
}

func NewHandler(networkSvc *network.Service, msgs *messages.Service, hub *chathub.ManagerService, auth Auth, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Network: networkSvc, Messages: msgs, Hub: hub, Auth: auth, Log: log}
}

// RegisterRoutes mounts every route on r.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api", h.AuthMiddleware())
	{
		conns := api.Group("/connections")
		conns.POST("", h.CreateConnection)
		conns.GET("/incoming", h.ListIncoming)
		conns.GET("/accepted", h.ListAccepted)
		conns.GET("/index", h.GetIndex)
		conns.GET("/status/:userId", h.GetStatus)
		conns.POST("/:id/respond", h.RespondConnection)
		conns.GET("/:id/messages", h.ListMessages)
		conns.POST("/:id/messages", h.PostMessage)
		conns.GET("/:id/ws", h.ServeWebSocket)
	}
}

var errorStatus = map[string]int{
	"invalid_request":    http.StatusBadRequest,
	"empty_content":      http.StatusBadRequest,
	"not_authorized":     http.StatusForbidden,
	"not_a_party":        http.StatusForbidden,
	"not_found":          http.StatusNotFound,
	"duplicate_active":   http.StatusConflict,
	"invalid_transition": http.StatusConflict,
	"not_connected":      http.StatusConflict,
}

// respondError maps domain failures to their status and hides everything else
// behind a 500.
func (h *Handler) respondError(c *gin.Context, err error) {
	code := storage.ErrorCode(err)
	status, ok := errorStatus[code]
	if !ok {
		h.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
}
