package store

import (
	"context"
	"fmt"

	"github.com/4xmen/gapchat/internal/models"
)

// SavePushSubscription stores or refreshes a subscription. An endpoint moves
// to the latest user that registered it.
func (s *Store) SavePushSubscription(ctx context.Context, userID int64, sub models.PushSubscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			user_id = excluded.user_id,
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			revoked_at = NULL
	`, userID, sub.Endpoint, sub.P256dh, sub.Auth)
	if err != nil {
		return fmt.Errorf("failed to save push subscription: %w", err)
	}
	return nil
}

// RevokePushSubscription marks the user's subscription as revoked.
func (s *Store) RevokePushSubscription(ctx context.Context, userID int64, endpoint string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE push_subscriptions SET revoked_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND endpoint = ? AND revoked_at IS NULL
	`, userID, endpoint)
	if err != nil {
		return false, fmt.Errorf("failed to revoke push subscription: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) ActivePushSubscriptions(ctx context.Context, userID int64) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.read(ctx, func() error {
		subs = subs[:0]
		rows, err := s.db.QueryContext(ctx,
			"SELECT endpoint, p256dh, auth FROM push_subscriptions WHERE user_id = ? AND revoked_at IS NULL ORDER BY id",
			userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var sub models.PushSubscription
			if err := rows.Scan(&sub.Endpoint, &sub.P256dh, &sub.Auth); err != nil {
				return err
			}
			subs = append(subs, sub)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch push subscriptions: %w", err)
	}
	return subs, nil
}

// DeletePushSubscription drops an endpoint the push service reported gone.
func (s *Store) DeletePushSubscription(ctx context.Context, endpoint string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint); err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}
	return nil
}
