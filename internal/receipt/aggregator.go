// Package receipt folds per-user acknowledgements (read receipts and
// view-once openings) into message state and decides which realtime event,
// if any, an acknowledgement produces.
package receipt

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/4xmen/gapchat/internal/events"
	"github.com/4xmen/gapchat/internal/models"
)

type Store interface {
	PurgeIfAllViewed(ctx context.Context, messageID int64) (bool, error)
}

type Aggregator struct {
	store Store
	pub   events.Publisher
}

func New(store Store, pub events.Publisher) *Aggregator {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Aggregator{store: store, pub: pub}
}

// ViewRecorded runs after a view-once open was attempted. appended reports
// whether the store actually added viewerID. A no-op open emits nothing.
// When the open completes the set of eligible viewers, the message is purged
// and the emitted event carries Purged; the store guarantees only one caller
// observes that transition.
func (a *Aggregator) ViewRecorded(ctx context.Context, m *models.Message, participants []int64, viewerID int64, appended bool) (bool, error) {
	if !appended {
		return false, nil
	}

	purged, err := a.store.PurgeIfAllViewed(ctx, m.ID)
	if err != nil {
		return false, err
	}
	if purged {
		log.Info().Int64("message_id", m.ID).Int64("chat_id", m.ChatID).Msg("view-once message purged")
	}

	a.pub.Publish(events.Event{
		Type:         events.MessageViewed,
		ChatID:       m.ChatID,
		ActorID:      viewerID,
		Recipients:   participants,
		ExcludeActor: true,
		Payload:      events.Viewed{MessageID: m.ID, ViewerID: viewerID, Purged: purged},
	})
	return purged, nil
}

// ReadRecorded emits message.read for a receipt the store accepted. Repeated
// reads are no-ops.
func (a *Aggregator) ReadRecorded(m *models.Message, participants []int64, readerID int64, readAt time.Time, appended bool) {
	if !appended {
		return
	}
	a.publishRead(m.ChatID, m.ID, participants, readerID, readAt)
}

// ChatRead emits one message.read per message a mark-all-read batch changed.
func (a *Aggregator) ChatRead(chatID int64, participants []int64, readerID int64, messageIDs []int64, readAt time.Time) {
	for _, id := range messageIDs {
		a.publishRead(chatID, id, participants, readerID, readAt)
	}
}

func (a *Aggregator) publishRead(chatID, messageID int64, participants []int64, readerID int64, readAt time.Time) {
	a.pub.Publish(events.Event{
		Type:         events.MessageRead,
		ChatID:       chatID,
		ActorID:      readerID,
		Recipients:   participants,
		ExcludeActor: true,
		Payload:      events.Read{MessageID: messageID, ReaderID: readerID, ReadAt: readAt},
	})
}
