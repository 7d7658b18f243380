package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/subtrack/subscription-service/internal/domain"
)

// CreateInAppNotification inserts an inbox row and reports whether it was new.
// A repeated dedupe key is a no-op.
func (r *PostgresRepository) CreateInAppNotification(ctx context.Context, item domain.InAppNotification) (bool, error) {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	query := `
        INSERT INTO in_app_notifications (
            id, user_id, subscription_id, reminder_id, type, title, body,
            days_until_expiry, dedupe_key
        )
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (dedupe_key) DO NOTHING
    `
	tag, err := r.db.Exec(ctx, query,
		item.ID,
		item.UserID,
		item.SubscriptionID,
		item.ReminderID,
		item.Type,
		item.Title,
		item.Body,
		item.DaysUntilExpiry,
		item.DedupeKey,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListInAppNotifications retrieves paginated inbox notifications, newest first.
func (r *PostgresRepository) ListInAppNotifications(ctx context.Context, userID uuid.UUID, opts domain.NotificationListOptions) ([]domain.InAppNotification, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
        SELECT id, user_id, subscription_id, reminder_id, type, title, body,
               days_until_expiry, read_at, created_at
        FROM in_app_notifications
        WHERE user_id = $1
          AND ($2::boolean = FALSE OR read_at IS NULL)
        ORDER BY created_at DESC
        LIMIT $3 OFFSET $4
    `
	rows, err := r.db.Query(ctx, query, userID, opts.UnreadOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InAppNotification, 0)
	for rows.Next() {
		var item domain.InAppNotification
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.SubscriptionID,
			&item.ReminderID,
			&item.Type,
			&item.Title,
			&item.Body,
			&item.DaysUntilExpiry,
			&item.ReadAt,
			&item.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountUnreadInAppNotifications returns the unread inbox size.
func (r *PostgresRepository) CountUnreadInAppNotifications(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM in_app_notifications WHERE user_id = $1 AND read_at IS NULL", userID).Scan(&count)
	return count, err
}

// MarkInAppNotificationRead marks one notification as read. Marking an already
// read row is not an error.
func (r *PostgresRepository) MarkInAppNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	query := `
        UPDATE in_app_notifications
        SET read_at = COALESCE(read_at, NOW())
        WHERE id = $1
          AND user_id = $2
    `
	tag, err := r.db.Exec(ctx, query, notificationID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllInAppNotificationsRead marks every unread notification as read.
func (r *PostgresRepository) MarkAllInAppNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, "UPDATE in_app_notifications SET read_at = NOW() WHERE user_id = $1 AND read_at IS NULL", userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
