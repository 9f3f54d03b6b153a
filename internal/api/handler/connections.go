package handler

import (
	"alumnet/backend/internal/models"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type createConnectionRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required"`
}

type respondRequest struct {
	Decision models.Decision `json:"decision" binding:"required"`
}

func (h *Handler) CreateConnection(c *gin.Context) {
	var req createConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	conn, err := h.Network.Request(c.Request.Context(), currentUser(c), req.ReceiverID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conn)
}

func (h *Handler) RespondConnection(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !req.Decision.Valid() {
		badRequest(c, errors.New("decision must be accept or reject"))
		return
	}

	conn, err := h.Network.Respond(c.Request.Context(), c.Param("id"), currentUser(c), req.Decision)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

func (h *Handler) ListIncoming(c *gin.Context) {
	conns, err := h.Network.ListIncomingPending(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conns)
}

func (h *Handler) ListAccepted(c *gin.Context) {
	conns, err := h.Network.ListAccepted(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conns)
}

// refreshRequested reports whether the client asked for the index to be
// rebuilt from the store, e.g. after noticing it is stale.
func refreshRequested(c *gin.Context) bool {
	refresh, _ := strconv.ParseBool(c.Query("refresh"))
	return refresh
}

func (h *Handler) GetIndex(c *gin.Context) {
	ctx, viewer := c.Request.Context(), currentUser(c)
	index := h.Network.Index
	if refreshRequested(c) {
		index = h.Network.Refresh
	}
	ix, err := index(ctx, viewer)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"statuses":         ix.Snapshot(),
		"incoming_pending": ix.IncomingPending(),
	})
}

func (h *Handler) GetStatus(c *gin.Context) {
	ctx, viewer := c.Request.Context(), currentUser(c)
	if refreshRequested(c) {
		if _, err := h.Network.Refresh(ctx, viewer); err != nil {
			h.respondError(c, err)
			return
		}
	}
	status, err := h.Network.StatusBetween(ctx, viewer, c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
