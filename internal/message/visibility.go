package message

import "github.com/4xmen/gapchat/internal/models"

type Visibility int

const (
	// Hidden messages are not shown to the viewer at all.
	Hidden Visibility = iota
	// Locked messages are shown as a placeholder without content.
	Locked
	// Visible messages are shown with their content.
	Visible
)

func (v Visibility) String() string {
	switch v {
	case Locked:
		return "locked"
	case Visible:
		return "visible"
	default:
		return "hidden"
	}
}

// VisibleTo is the predicate every read path applies before a message leaves
// the core.
func VisibleTo(viewerID int64, m *models.Message) Visibility {
	switch m.DeleteScope {
	case models.DeleteScopeEveryone:
		return Hidden
	case models.DeleteScopeSender:
		if viewerID == m.SenderID {
			return Hidden
		}
	}

	if m.IsViewOnce {
		// purged, or already opened by this viewer
		if m.IsDeleted || m.ViewedByUser(viewerID) {
			return Hidden
		}
		return Locked
	}

	if m.IsDeleted {
		return Hidden
	}
	return Visible
}

// Project returns the copy of m that viewerID may see, or false when the
// message is hidden from them.
func Project(viewerID int64, m *models.Message) (*models.Message, bool) {
	switch VisibleTo(viewerID, m) {
	case Visible:
		return redact(m, false), true
	case Locked:
		return redact(m, true), true
	default:
		return nil, false
	}
}

// broadcastView is the projection sent in fan-out events: the view of a
// recipient who has not opened the message yet.
func broadcastView(m *models.Message) *models.Message {
	return redact(m, m.IsViewOnce)
}

// broadcastViewer stands in for a recipient in fan-out projections. Real
// user ids are positive.
const broadcastViewer int64 = 0

func redact(m *models.Message, locked bool) *models.Message {
	cp := *m
	cp.EditHistory = nil
	cp.ViewedBy = append([]int64{}, m.ViewedBy...)
	cp.ReadBy = append([]models.ReadReceipt{}, m.ReadBy...)
	if locked {
		cp.Content = ""
		cp.Locked = true
	}
	cp.ReplyTo = nil
	return &cp
}

// replyPreview is the reply target as viewerID may see it. Hidden targets
// collapse to a deleted stub so the reference survives without content.
func replyPreview(viewerID int64, target *models.Message) *models.Message {
	if p, ok := Project(viewerID, target); ok {
		return p
	}
	return &models.Message{
		ID:        target.ID,
		ChatID:    target.ChatID,
		SenderID:  target.SenderID,
		Sender:    target.Sender,
		MediaType: target.MediaType,
		CreatedAt: target.CreatedAt,
		IsDeleted: true,
		ViewedBy:  []int64{},
		ReadBy:    []models.ReadReceipt{},
	}
}
