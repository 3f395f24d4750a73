package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/gapchat/internal/apperr"
	"github.com/4xmen/gapchat/internal/models"
)

const userSearchLimit = 20

type UserStore interface {
	SearchUsers(ctx context.Context, callerID int64, query string, limit int) ([]models.User, error)
}

// OnlineChecker reports whether a user has a live socket.
type OnlineChecker interface {
	IsUserOnline(userID int64) bool
}

type UserHandler struct {
	users     UserStore
	online    OnlineChecker
	translate Translator
}

// NewUserHandler serves the user directory. online may be nil, in which case
// every user is reported offline.
func NewUserHandler(users UserStore, online OnlineChecker, translate Translator) *UserHandler {
	return &UserHandler{users: users, online: online, translate: translate.orIdentity()}
}

type userEntry struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	DisplayName *string   `json:"display_name,omitempty"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	IsOnline    bool      `json:"is_online"`
	CreatedAt   time.Time `json:"created_at"`
}

// Search lists other users whose username contains ?search=, ignoring case.
// Without a query it lists everyone but the caller.
func (h *UserHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("search"))
	users, err := h.users.SearchUsers(c.Request.Context(), currentUser(c), query, userSearchLimit)
	if err != nil {
		respondError(c, h.translate, apperr.Internal("users.search", err))
		return
	}

	entries := make([]userEntry, 0, len(users))
	for _, u := range users {
		entries = append(entries, userEntry{
			ID:          u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			AvatarURL:   u.AvatarURL,
			IsOnline:    h.online != nil && h.online.IsUserOnline(u.ID),
			CreatedAt:   u.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, entries)
}
