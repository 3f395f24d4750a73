package models

import "time"

type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	DisplayName *string   `json:"display_name,omitempty"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Chat struct {
	ID            int64        `json:"id"`
	Name          string       `json:"name"`
	IsGroup       bool         `json:"is_group"`
	Participants  []int64      `json:"participants"`
	AdminID       *int64       `json:"admin_id,omitempty"`
	LatestMessage *Message     `json:"latest_message,omitempty"`
	InviteLinks   []InviteLink `json:"invite_links,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// HasParticipant reports whether userID is a member of the chat.
func (c *Chat) HasParticipant(userID int64) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether userID administers the chat. Direct chats have no admin.
func (c *Chat) IsAdmin(userID int64) bool {
	return c.AdminID != nil && *c.AdminID == userID
}

type MediaType string

const (
	MediaText  MediaType = "text"
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

type DeleteScope string

const (
	DeleteScopeNone     DeleteScope = ""
	DeleteScopeSender   DeleteScope = "sender"
	DeleteScopeEveryone DeleteScope = "everyone"
)

// Valid reports whether s is a scope a caller may request.
func (s DeleteScope) Valid() bool {
	return s == DeleteScopeSender || s == DeleteScopeEveryone
}

type ReadReceipt struct {
	UserID int64     `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

type EditEntry struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
}

type Message struct {
	ID          int64         `json:"id"`
	ChatID      int64         `json:"chat_id"`
	SenderID    int64         `json:"sender_id"`
	Sender      *User         `json:"sender,omitempty"`
	Content     string        `json:"content"`
	MediaType   MediaType     `json:"media_type"`
	CreatedAt   time.Time     `json:"created_at"`
	IsViewOnce  bool          `json:"is_view_once"`
	ViewedBy    []int64       `json:"viewed_by"`
	IsEdited    bool          `json:"is_edited"`
	EditedAt    *time.Time    `json:"edited_at,omitempty"`
	EditHistory []EditEntry   `json:"-"`
	IsDeleted   bool          `json:"is_deleted"`
	DeleteScope DeleteScope   `json:"delete_scope,omitempty"`
	ReplyToID   *int64        `json:"reply_to_id,omitempty"`
	ReplyTo     *Message      `json:"reply_to,omitempty"`
	ReadBy      []ReadReceipt `json:"read_by"`
	// Locked is set on projections of view-once messages whose content is
	// withheld from the viewer.
	Locked bool `json:"locked,omitempty"`
}

// ViewedByUser reports whether userID has opened this view-once message.
func (m *Message) ViewedByUser(userID int64) bool {
	for _, id := range m.ViewedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// ReadByUser reports whether userID has a read receipt on the message.
func (m *Message) ReadByUser(userID int64) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

type InviteLink struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	ChatID    int64     `json:"chat_id"`
	CreatedBy int64     `json:"created_by"`
	ExpiresAt time.Time `json:"expires_at"`
	UsedCount int       `json:"used_count"`
	MaxUses   *int      `json:"max_uses,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the link's expiry has passed at now.
func (l *InviteLink) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Exhausted reports whether a usage cap is set and has been reached.
func (l *InviteLink) Exhausted() bool {
	return l.MaxUses != nil && l.UsedCount >= *l.MaxUses
}

type PushSubscription struct {
	Endpoint string `json:"endpoint" binding:"required,url"`
	P256dh   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}
