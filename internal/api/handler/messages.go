package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type postMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) ListMessages(c *gin.Context) {
	history, err := h.Messages.HistoryFor(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// PostMessage leaves blank content to the store so it is reported as
// empty_content rather than a binding failure.
func (h *Handler) PostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	msg, err := h.Messages.Append(c.Request.Context(), c.Param("id"), currentUser(c), req.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
