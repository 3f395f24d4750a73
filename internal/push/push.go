package push

import (
	"context"
	"encoding/json"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"

	"github.com/4xmen/gapchat/internal/events"
	"github.com/4xmen/gapchat/internal/metrics"
	"github.com/4xmen/gapchat/internal/models"
)

type Store interface {
	ActivePushSubscriptions(ctx context.Context, userID int64) ([]models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

// SendFunc delivers one encrypted notification. It matches
// webpush.SendNotification so tests can stand in for the push service.
type SendFunc func(message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)

// Notifier sends Web Push notifications to users with no open connection.
type Notifier struct {
	store           Store
	vapidPublicKey  string
	vapidPrivateKey string
	send            SendFunc
	translate       func(string) string
}

// NewNotifier creates a push Notifier. Returns nil if VAPID keys are empty.
func NewNotifier(store Store, vapidPublicKey, vapidPrivateKey string, translate func(string) string) *Notifier {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil
	}
	if translate == nil {
		translate = func(s string) string { return s }
	}
	return &Notifier{
		store:           store,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		send:            webpush.SendNotification,
		translate:       translate,
	}
}

// VAPIDPublicKey returns the public VAPID key for the frontend.
func (n *Notifier) VAPIDPublicKey() string {
	if n == nil {
		return ""
	}
	return n.vapidPublicKey
}

// payload is the JSON structure sent inside the push notification.
type payload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url"`
	ChatID int64  `json:"chat_id"`
}

// NotifyOffline pushes a new-message notification to each offline
// recipient. View-once content never leaves the server in a push body.
func (n *Notifier) NotifyOffline(ctx context.Context, userIDs []int64, e events.Event) {
	if n == nil || e.Type != events.MessageCreated {
		return
	}

	body := n.translate("you have a new message")
	if created, ok := e.Payload.(events.Created); ok && created.Message != nil && created.Message.Sender != nil {
		body = n.translate("new message from ") + created.Message.Sender.Username
	}
	data, err := json.Marshal(payload{
		Title:  n.translate("new message"),
		Body:   body,
		URL:    "/",
		ChatID: e.ChatID,
	})
	if err != nil {
		log.Error().Err(err).Msg("push: failed to encode payload")
		return
	}

	for _, userID := range userIDs {
		subs, err := n.store.ActivePushSubscriptions(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("push: failed to query subscriptions")
			continue
		}
		if len(subs) == 0 {
			continue
		}
		log.Debug().Int64("user_id", userID).Int("subscriptions", len(subs)).Msg("push: sending notification")
		for _, sub := range subs {
			n.sendToSubscription(ctx, sub, data)
		}
	}
}

func (n *Notifier) sendToSubscription(ctx context.Context, sub models.PushSubscription, data []byte) {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}

	resp, err := n.send(data, s, &webpush.Options{
		VAPIDPublicKey:  n.vapidPublicKey,
		VAPIDPrivateKey: n.vapidPrivateKey,
		Subscriber:      "mailto:push@gapchat.local",
		TTL:             86400,
	})
	if err != nil {
		metrics.PushSent.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("push: failed to send")
		return
	}
	defer resp.Body.Close()

	// 410 Gone or 404 means the subscription is expired
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		metrics.PushSent.WithLabelValues("expired").Inc()
		if err := n.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
			log.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("push: failed to remove expired subscription")
			return
		}
		log.Info().Str("endpoint", sub.Endpoint).Int("status", resp.StatusCode).Msg("push: removed expired subscription")
		return
	}
	metrics.PushSent.WithLabelValues("sent").Inc()
}
