package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/subtrack/subscription-service/internal/domain"
)

const reminderColumns = `rm.id, rm.subscription_id, rm.days_before, rm.enabled, rm.created_at`

func scanReminder(row pgx.Row) (*domain.Reminder, error) {
	var reminder domain.Reminder
	if err := row.Scan(
		&reminder.ID,
		&reminder.SubscriptionID,
		&reminder.DaysBefore,
		&reminder.Enabled,
		&reminder.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &reminder, nil
}

func insertReminder(ctx context.Context, q querier, subscriptionID uuid.UUID, daysBefore int, enabled bool) (*domain.Reminder, error) {
	query := `
        INSERT INTO reminders AS rm (id, subscription_id, days_before, enabled)
        VALUES ($1, $2, $3, $4)
        RETURNING ` + reminderColumns
	return scanReminder(q.QueryRow(ctx, query, uuid.New(), subscriptionID, daysBefore, enabled))
}

// uuidStrings renders ids as text. The pool runs in simple protocol mode,
// which has no encode plan for []uuid.UUID.
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// loadReminders fetches the reminders of the given subscriptions keyed by
// subscription id. Every requested id gets a non-nil slice.
func loadReminders(ctx context.Context, q querier, subscriptionIDs []uuid.UUID) (map[uuid.UUID][]domain.Reminder, error) {
	out := make(map[uuid.UUID][]domain.Reminder, len(subscriptionIDs))
	for _, id := range subscriptionIDs {
		out[id] = []domain.Reminder{}
	}
	if len(subscriptionIDs) == 0 {
		return out, nil
	}

	query := `
        SELECT ` + reminderColumns + `
        FROM reminders rm
        WHERE rm.subscription_id = ANY($1::uuid[])
        ORDER BY rm.days_before DESC, rm.created_at ASC
    `
	rows, err := q.Query(ctx, query, uuidStrings(subscriptionIDs))
	if err != nil {
		return nil, fmt.Errorf("load reminders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out[reminder.SubscriptionID] = append(out[reminder.SubscriptionID], *reminder)
	}
	return out, rows.Err()
}

// ListReminders returns the reminders of one owned subscription.
func (r *PostgresRepository) ListReminders(ctx context.Context, userID, subscriptionID uuid.UUID) ([]domain.Reminder, error) {
	if err := r.subscriptionOwned(ctx, userID, subscriptionID); err != nil {
		return nil, err
	}
	reminders, err := loadReminders(ctx, r.db, []uuid.UUID{subscriptionID})
	if err != nil {
		return nil, err
	}
	return reminders[subscriptionID], nil
}

// AddReminder attaches a reminder to an owned subscription.
func (r *PostgresRepository) AddReminder(ctx context.Context, userID, subscriptionID uuid.UUID, daysBefore int, enabled bool) (*domain.Reminder, error) {
	query := `
        INSERT INTO reminders AS rm (id, subscription_id, days_before, enabled)
        SELECT $1, s.id, $3, $4
        FROM subscriptions s
        WHERE s.id = $2 AND s.user_id = $5
        RETURNING ` + reminderColumns
	reminder, err := scanReminder(r.db.QueryRow(ctx, query, uuid.New(), subscriptionID, daysBefore, enabled, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return reminder, nil
}

// UpdateReminder edits a reminder of an owned subscription.
func (r *PostgresRepository) UpdateReminder(ctx context.Context, userID, subscriptionID, reminderID uuid.UUID, upd domain.ReminderUpdate) (*domain.Reminder, error) {
	setClauses := make([]string, 0, 2)
	args := []any{reminderID, subscriptionID, userID}
	if upd.DaysBefore != nil {
		args = append(args, *upd.DaysBefore)
		setClauses = append(setClauses, fmt.Sprintf("days_before = $%d", len(args)))
	}
	if upd.Enabled != nil {
		args = append(args, *upd.Enabled)
		setClauses = append(setClauses, fmt.Sprintf("enabled = $%d", len(args)))
	}
	if len(setClauses) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", domain.ErrInvalidField)
	}

	query := fmt.Sprintf(`
        UPDATE reminders AS rm
        SET %s
        FROM subscriptions s
        WHERE rm.id = $1
          AND rm.subscription_id = $2
          AND s.id = rm.subscription_id
          AND s.user_id = $3
        RETURNING %s`, strings.Join(setClauses, ", "), reminderColumns)

	reminder, err := scanReminder(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReminderNotFound
		}
		return nil, err
	}
	return reminder, nil
}

// DeleteReminder removes a reminder of an owned subscription.
func (r *PostgresRepository) DeleteReminder(ctx context.Context, userID, subscriptionID, reminderID uuid.UUID) error {
	query := `
        DELETE FROM reminders rm
        USING subscriptions s
        WHERE rm.id = $1
          AND rm.subscription_id = $2
          AND s.id = rm.subscription_id
          AND s.user_id = $3
    `
	tag, err := r.db.Exec(ctx, query, reminderID, subscriptionID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReminderNotFound
	}
	return nil
}

func (r *PostgresRepository) subscriptionOwned(ctx context.Context, userID, subscriptionID uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1 AND user_id = $2)", subscriptionID, userID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrSubscriptionNotFound
	}
	return nil
}
