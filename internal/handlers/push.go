package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/gapchat/internal/apperr"
	"github.com/4xmen/gapchat/internal/models"
)

type PushStore interface {
	SavePushSubscription(ctx context.Context, userID int64, sub models.PushSubscription) error
	RevokePushSubscription(ctx context.Context, userID int64, endpoint string) (bool, error)
}

type PushHandler struct {
	store     PushStore
	vapidKey  string
	translate Translator
}

// NewPushHandler serves subscription management. An empty vapidKey means
// push is disabled; subscriptions are still accepted.
func NewPushHandler(store PushStore, vapidKey string, translate Translator) *PushHandler {
	return &PushHandler{store: store, vapidKey: vapidKey, translate: translate.orIdentity()}
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

func (h *PushHandler) VAPIDKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"public_key": h.vapidKey, "enabled": h.vapidKey != ""})
}

func (h *PushHandler) Subscribe(c *gin.Context) {
	var sub models.PushSubscription
	if err := c.ShouldBindJSON(&sub); err != nil {
		badRequest(c, h.translate, "invalid request")
		return
	}
	if err := h.store.SavePushSubscription(c.Request.Context(), currentUser(c), sub); err != nil {
		respondError(c, h.translate, apperr.Internal("push.subscribe", err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *PushHandler) Unsubscribe(c *gin.Context) {
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.translate, "invalid request")
		return
	}
	revoked, err := h.store.RevokePushSubscription(c.Request.Context(), currentUser(c), req.Endpoint)
	if err != nil {
		respondError(c, h.translate, apperr.Internal("push.unsubscribe", err))
		return
	}
	if !revoked {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": h.translate("not found"), "code": apperr.KindNotFound.Code()})
		return
	}
	c.Status(http.StatusNoContent)
}
