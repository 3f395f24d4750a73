package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/gapchat/internal/chat"
	"github.com/4xmen/gapchat/internal/message"
	"github.com/4xmen/gapchat/internal/models"
)

type ChatHandler struct {
	chats     *chat.Service
	messages  *message.Engine
	translate Translator
}

func NewChatHandler(chats *chat.Service, messages *message.Engine, translate Translator) *ChatHandler {
	return &ChatHandler{chats: chats, messages: messages, translate: translate.orIdentity()}
}

type directChatRequest struct {
	UserID int64 `json:"user_id" binding:"required,gt=0"`
}

type groupChatRequest struct {
	Name      string  `json:"name" binding:"required"`
	MemberIDs []int64 `json:"member_ids" binding:"required"`
}

type renameRequest struct {
	Name string `json:"name" binding:"required"`
}

type memberRequest struct {
	UserID int64 `json:"user_id" binding:"required,gt=0"`
}

// List returns the caller's chats ordered by last activity.
func (h *ChatHandler) List(c *gin.Context) {
	chats, err := h.chats.List(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	if chats == nil {
		chats = []*models.Chat{}
	}
	c.JSON(http.StatusOK, chats)
}

func (h *ChatHandler) Get(c *gin.Context) {
	chatID, ok := paramID(c, h.translate, "id", "invalid chat id")
	if !ok {
		return
	}
	ch, err := h.chats.Get(c.Request.Context(), currentUser(c), chatID)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// AccessDirect returns the one-to-one chat with user_id, creating it on
// first access.
func (h *ChatHandler) AccessDirect(c *gin.Context) {
	var req directChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.translate, "invalid request")
		return
	}
	ch, err := h.chats.AccessDirect(c.Request.Context(), currentUser(c), req.UserID)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h *ChatHandler) CreateGroup(c *gin.Context) {
	var req groupChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.translate, "invalid request")
		return
	}
	ch, err := h.chats.CreateGroup(c.Request.Context(), currentUser(c), req.Name, req.MemberIDs)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	c.JSON(http.StatusCreated, ch)
}

func (h *ChatHandler) Rename(c *gin.Context) {
	chatID, ok := paramID(c, h.translate, "id", "invalid chat id")
	if !ok {
		return
	}
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.translate, "invalid request")
		return
	}
	ch, err := h.chats.Rename(c.Request.Context(), currentUser(c), chatID, req.Name)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h *ChatHandler) AddMember(c *gin.Context) {
	chatID, ok := paramID(c, h.translate, "id", "invalid chat id")
	if !ok {
		return
	}
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.translate, "invalid request")
		return
	}
	ch, err := h.chats.AddMember(c.Request.Context(), currentUser(c), chatID, req.UserID)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// RemoveMember removes :userId from the group. A member removing themselves
// leaves the group.
func (h *ChatHandler) RemoveMember(c *gin.Context) {
	chatID, ok := paramID(c, h.translate, "id", "invalid chat id")
	if !ok {
		return
	}
	userID, ok := paramID(c, h.translate, "userId", "invalid user id")
	if !ok {
		return
	}
	if err := h.chats.RemoveMember(c.Request.Context(), currentUser(c), chatID, userID); err != nil {
		respondError(c, h.translate, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Messages lists the chat's messages as the caller may see them.
func (h *ChatHandler) Messages(c *gin.Context) {
	chatID, ok := paramID(c, h.translate, "id", "invalid chat id")
	if !ok {
		return
	}
	msgs, err := h.messages.List(c.Request.Context(), currentUser(c), chatID)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *ChatHandler) MarkAllRead(c *gin.Context) {
	chatID, ok := paramID(c, h.translate, "id", "invalid chat id")
	if !ok {
		return
	}
	ids, err := h.messages.MarkAllRead(c.Request.Context(), currentUser(c), chatID)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"message_ids": ids})
}

func (h *ChatHandler) ReadStatus(c *gin.Context) {
	chatID, ok := paramID(c, h.translate, "id", "invalid chat id")
	if !ok {
		return
	}
	status, err := h.messages.ReadStatus(c.Request.Context(), currentUser(c), chatID)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	if status == nil {
		status = []message.ReadStatus{}
	}
	c.JSON(http.StatusOK, status)
}
