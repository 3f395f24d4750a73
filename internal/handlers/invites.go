package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/gapchat/internal/invite"
	"github.com/4xmen/gapchat/internal/models"
)

type InviteHandler struct {
	invites   *invite.Manager
	translate Translator
}

func NewInviteHandler(invites *invite.Manager, translate Translator) *InviteHandler {
	return &InviteHandler{invites: invites, translate: translate.orIdentity()}
}

type generateInviteRequest struct {
	// TTLSeconds of zero selects the server default.
	TTLSeconds int64 `json:"ttl_seconds"`
	MaxUses    *int  `json:"max_uses"`
}

func (h *InviteHandler) List(c *gin.Context) {
	chatID, ok := paramID(c, h.translate, "id", "invalid chat id")
	if !ok {
		return
	}
	links, err := h.invites.List(c.Request.Context(), currentUser(c), chatID)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	if links == nil {
		links = []models.InviteLink{}
	}
	c.JSON(http.StatusOK, links)
}

func (h *InviteHandler) Generate(c *gin.Context) {
	chatID, ok := paramID(c, h.translate, "id", "invalid chat id")
	if !ok {
		return
	}
	var req generateInviteRequest
	// An empty body means defaults.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, h.translate, "invalid request")
		return
	}
	link, err := h.invites.Generate(c.Request.Context(), currentUser(c), chatID,
		time.Duration(req.TTLSeconds)*time.Second, req.MaxUses)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	c.JSON(http.StatusCreated, link)
}

// Join redeems :code for the caller and returns the joined chat.
func (h *InviteHandler) Join(c *gin.Context) {
	ch, err := h.invites.Redeem(c.Request.Context(), currentUser(c), c.Param("code"))
	if err != nil {
		respondError(c, h.translate, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h *InviteHandler) Revoke(c *gin.Context) {
	id, ok := paramID(c, h.translate, "id", "invalid invite id")
	if !ok {
		return
	}
	if err := h.invites.Revoke(c.Request.Context(), currentUser(c), id); err != nil {
		respondError(c, h.translate, err)
		return
	}
	c.Status(http.StatusNoContent)
}
