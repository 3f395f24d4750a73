package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/gapchat/internal/apperr"
	"github.com/4xmen/gapchat/internal/auth"
)

type AuthHandler struct {
	authSvc   *auth.Service
	translate Translator
}

func NewAuthHandler(authSvc *auth.Service, translate Translator) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, translate: translate.orIdentity()}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token    string `json:"token"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// Register creates a new user account
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.translate, "invalid request")
		return
	}

	username := strings.TrimSpace(req.Username)
	userID, err := h.authSvc.Register(c.Request.Context(), username, req.Password)
	if err != nil {
		respondError(c, h.translate, err)
		return
	}

	token, err := h.authSvc.GenerateToken(userID, username)
	if err != nil {
		respondError(c, h.translate, apperr.Internal("auth.register", err))
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{
		Token:    token,
		UserID:   userID,
		Username: username,
	})
}

// Login authenticates a user and returns a token
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.translate, "invalid request")
		return
	}

	token, userID, err := h.authSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindForbidden {
			c.JSON(http.StatusUnauthorized, gin.H{"error": h.translate(apperr.Message(err)), "code": "unauthorized"})
			return
		}
		respondError(c, h.translate, err)
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		Token:    token,
		UserID:   userID,
		Username: strings.TrimSpace(req.Username),
	})
}

// AuthMiddleware validates the JWT and stores user_id (int64) and username
// in the gin context.
func (h *AuthHandler) AuthMiddleware() gin.HandlerFunc {
	unauthorized := func(c *gin.Context, msg string) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": h.translate(msg), "code": "unauthorized"})
	}

	return func(c *gin.Context) {
		token := ""
		if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}

		// Browsers cannot set headers on websocket upgrades
		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			unauthorized(c, "missing authorization token")
			return
		}

		claims, err := h.authSvc.ValidateToken(token)
		if err != nil {
			unauthorized(c, "invalid token")
			return
		}

		exists, err := h.authSvc.UserExists(c.Request.Context(), claims.UserID)
		if err != nil {
			respondError(c, h.translate, apperr.Internal("auth.middleware", err))
			return
		}
		if !exists {
			unauthorized(c, "user not found")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}
