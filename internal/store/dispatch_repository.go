package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/subtrack/subscription-service/internal/domain"
)

const maxFailureReasonLength = 1000

// ListActiveSubscriptionsWithReminders returns every active, unexpired
// subscription that has at least one enabled reminder, with its reminders and
// the owner's email.
func (r *PostgresRepository) ListActiveSubscriptionsWithReminders(ctx context.Context, today domain.Date) ([]domain.DispatchCandidate, error) {
	query := `
        SELECT ` + subscriptionColumns + `, COALESCE(u.email, '')
        FROM subscriptions s
        JOIN users u ON u.id = s.user_id
        WHERE s.is_active = TRUE
          AND s.expiry_date >= $1
          AND EXISTS (
            SELECT 1 FROM reminders rm
            WHERE rm.subscription_id = s.id AND rm.enabled = TRUE
          )
        ORDER BY s.expiry_date ASC, s.id ASC
    `
	rows, err := r.db.Query(ctx, query, today.Time)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates := make([]domain.DispatchCandidate, 0)
	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var ownerEmail string
		sub, err := scanSubscription(rows, &ownerEmail)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, domain.DispatchCandidate{Subscription: *sub, OwnerEmail: ownerEmail})
		ids = append(ids, sub.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reminders, err := loadReminders(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		candidates[i].Subscription.Reminders = reminders[candidates[i].Subscription.ID]
	}
	return candidates, nil
}

// ClaimEmailDispatch reserves the email for (subscription, reminder, day).
//
// It returns the claimed row, or nil when the email was already sent or
// another worker holds a fresh claim. Failed rows and in-flight rows last
// touched before staleBefore are claimed again.
func (r *PostgresRepository) ClaimEmailDispatch(ctx context.Context, claim domain.EmailDispatchClaim, staleBefore time.Time) (*domain.EmailLog, error) {
	query := `
        INSERT INTO email_logs AS el (
            id, subscription_id, reminder_id, user_id, recipient,
            dispatch_date, days_until_expiry, status, attempts
        )
        VALUES ($1,$2,$3,$4,$5,$6,$7,'queued',1)
        ON CONFLICT (subscription_id, reminder_id, dispatch_date) DO UPDATE SET
            status = 'queued',
            recipient = EXCLUDED.recipient,
            attempts = el.attempts + 1,
            last_error = NULL,
            updated_at = NOW()
        WHERE el.status = 'failed'
           OR (el.status IN ('queued', 'sending') AND el.updated_at < $8)
        RETURNING el.id, el.subscription_id, el.reminder_id, el.user_id, el.recipient,
                  el.dispatch_date, el.days_until_expiry, el.status, el.attempts,
                  el.last_error, el.sent_at, el.created_at, el.updated_at
    `
	var entry domain.EmailLog
	err := r.db.QueryRow(ctx, query,
		uuid.New(),
		claim.SubscriptionID,
		claim.ReminderID,
		claim.UserID,
		claim.Recipient,
		claim.DispatchDate.Time,
		claim.DaysUntilExpiry,
		staleBefore,
	).Scan(
		&entry.ID,
		&entry.SubscriptionID,
		&entry.ReminderID,
		&entry.UserID,
		&entry.Recipient,
		&entry.DispatchDate.Time,
		&entry.DaysUntilExpiry,
		&entry.Status,
		&entry.Attempts,
		&entry.LastError,
		&entry.SentAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	entry.DispatchDate = domain.DateOf(entry.DispatchDate.Time)
	return &entry, nil
}

// MarkEmailSending moves a claimed row to sending right before delivery.
func (r *PostgresRepository) MarkEmailSending(ctx context.Context, logID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
        UPDATE email_logs
        SET status = 'sending', updated_at = NOW()
        WHERE id = $1 AND status = 'queued'
    `, logID)
	return err
}

// MarkEmailSent records a successful delivery.
func (r *PostgresRepository) MarkEmailSent(ctx context.Context, logID uuid.UUID, sentAt time.Time) error {
	_, err := r.db.Exec(ctx, `
        UPDATE email_logs
        SET status = 'sent', sent_at = $2, last_error = NULL, updated_at = NOW()
        WHERE id = $1
    `, logID, sentAt)
	return err
}

// MarkEmailFailed records a failed delivery so a later run can retry it.
func (r *PostgresRepository) MarkEmailFailed(ctx context.Context, logID uuid.UUID, failureReason string) error {
	if len(failureReason) > maxFailureReasonLength {
		failureReason = failureReason[:maxFailureReasonLength]
	}
	_, err := r.db.Exec(ctx, `
        UPDATE email_logs
        SET status = 'failed', last_error = $2, updated_at = NOW()
        WHERE id = $1 AND status <> 'sent'
    `, logID, failureReason)
	return err
}
