package handlers

import "github.com/gin-gonic/gin"

// API groups the handlers behind /api.
type API struct {
	Auth     *AuthHandler
	Chats    *ChatHandler
	Messages *MessageHandler
	Invites  *InviteHandler
	Push     *PushHandler
	Users    *UserHandler

	// Optional per-route guards, typically rate limiters.
	LoginGuard    gin.HandlerFunc
	RegisterGuard gin.HandlerFunc
	RedeemGuard   gin.HandlerFunc
}

func guarded(guard gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	if guard == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{guard, h}
}

// Mount registers every /api route on r.
func (a *API) Mount(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/auth/register", guarded(a.RegisterGuard, a.Auth.Register)...)
	api.POST("/auth/login", guarded(a.LoginGuard, a.Auth.Login)...)

	protected := api.Group("")
	protected.Use(a.Auth.AuthMiddleware())
	{
		protected.GET("/users", a.Users.Search)

		protected.GET("/chats", a.Chats.List)
		protected.POST("/chats", a.Chats.AccessDirect)
		protected.POST("/chats/group", a.Chats.CreateGroup)
		protected.GET("/chats/:id", a.Chats.Get)
		protected.PUT("/chats/:id/name", a.Chats.Rename)
		protected.POST("/chats/:id/members", a.Chats.AddMember)
		protected.DELETE("/chats/:id/members/:userId", a.Chats.RemoveMember)
		protected.GET("/chats/:id/messages", a.Chats.Messages)
		protected.PUT("/chats/:id/read", a.Chats.MarkAllRead)
		protected.GET("/chats/:id/read-status", a.Chats.ReadStatus)

		protected.GET("/chats/:id/invites", a.Invites.List)
		protected.POST("/chats/:id/invites", a.Invites.Generate)
		protected.POST("/invites/:code/join", guarded(a.RedeemGuard, a.Invites.Join)...)
		protected.DELETE("/invites/:id", a.Invites.Revoke)

		protected.POST("/messages", a.Messages.Send)
		protected.GET("/messages/:id", a.Messages.Get)
		protected.PUT("/messages/:id", a.Messages.Edit)
		protected.DELETE("/messages/:id", a.Messages.Delete)
		protected.GET("/messages/:id/history", a.Messages.History)
		protected.POST("/messages/:id/view", a.Messages.View)
		protected.PUT("/messages/:id/read", a.Messages.MarkRead)

		protected.GET("/push/vapid-key", a.Push.VAPIDKey)
		protected.POST("/push/subscribe", a.Push.Subscribe)
		protected.DELETE("/push/subscribe", a.Push.Unsubscribe)
	}
}
