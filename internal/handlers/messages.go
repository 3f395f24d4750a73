package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/gapchat/internal/message"
	"github.com/4xmen/gapchat/internal/models"
)

type MessageHandler struct {
	messages  *message.Engine
	translate Translator
}

func NewMessageHandler(messages *message.Engine, translate Translator) *MessageHandler {
	return &MessageHandler{messages: messages, translate: translate.orIdentity()}
}

type editRequest struct {
	Content string `json:"content" binding:"required"`
}

// Send creates a message. Field validation happens in the engine so the
// socket and HTTP paths report identical errors.
func (h *MessageHandler) Send(c *gin.Context) {
	var in message.SendInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, h.translate, "invalid request")
		return
	}
	m, err := h.messages.Send(c.Request.Context(), currentUser(c), in)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *MessageHandler) Get(c *gin.Context) {
	id, ok := paramID(c, h.translate, "id", "invalid message id")
	if !ok {
		return
	}
	m, err := h.messages.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *MessageHandler) Edit(c *gin.Context) {
	id, ok := paramID(c, h.translate, "id", "invalid message id")
	if !ok {
		return
	}
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.translate, "invalid request")
		return
	}
	m, err := h.messages.Edit(c.Request.Context(), currentUser(c), id, req.Content)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Delete removes a message for the sender only (default) or, with
// ?scope=everyone, for all participants.
func (h *MessageHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, h.translate, "id", "invalid message id")
	if !ok {
		return
	}
	scope := models.DeleteScope(c.DefaultQuery("scope", string(models.DeleteScopeSender)))
	if err := h.messages.Delete(c.Request.Context(), currentUser(c), id, scope); err != nil {
		respondError(c, h.translate, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) History(c *gin.Context) {
	id, ok := paramID(c, h.translate, "id", "invalid message id")
	if !ok {
		return
	}
	history, err := h.messages.History(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	if history == nil {
		history = []models.EditEntry{}
	}
	c.JSON(http.StatusOK, history)
}

// View opens a view-once message. The content is returned exactly once per
// viewer.
func (h *MessageHandler) View(c *gin.Context) {
	id, ok := paramID(c, h.translate, "id", "invalid message id")
	if !ok {
		return
	}
	m, err := h.messages.ConsumeViewOnce(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	id, ok := paramID(c, h.translate, "id", "invalid message id")
	if !ok {
		return
	}
	changed, err := h.messages.MarkRead(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": id, "changed": changed})
}
