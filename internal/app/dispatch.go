/**
 * @description
 * The daily reminder sweep. For every active subscription it asks the reminder
 * matcher which reminders fire today, records an in-app notification and
 * delivers at most one email per (subscription, reminder, day).
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/subtrack/subscription-service/internal/domain"
)

const (
	defaultSendTimeout = 15 * time.Second
	defaultStaleAfter  = 30 * time.Minute
	defaultLockTTL     = 30 * time.Minute

	terminalWriteTimeout = 10 * time.Second
)

// DispatchRepository defines the database operations the sweep needs.
type DispatchRepository interface {
	ListActiveSubscriptionsWithReminders(ctx context.Context, today domain.Date) ([]domain.DispatchCandidate, error)
	CreateInAppNotification(ctx context.Context, item domain.InAppNotification) (bool, error)
	ClaimEmailDispatch(ctx context.Context, claim domain.EmailDispatchClaim, staleBefore time.Time) (*domain.EmailLog, error)
	MarkEmailSending(ctx context.Context, logID uuid.UUID) error
	MarkEmailSent(ctx context.Context, logID uuid.UUID, sentAt time.Time) error
	MarkEmailFailed(ctx context.Context, logID uuid.UUID, failureReason string) error
}

// EmailSender delivers one HTML email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) error
}

// DispatchLock keeps two sweeps for the same day from overlapping.
type DispatchLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// DispatchConfig tunes the sweep.
type DispatchConfig struct {
	SendTimeout time.Duration
	StaleAfter  time.Duration
	LockTTL     time.Duration
	AppBaseURL  string
}

// Dispatcher runs the daily reminder sweep.
type Dispatcher struct {
	repo      DispatchRepository
	sender    EmailSender
	lock      DispatchLock
	publisher EventPublisher
	logger    *slog.Logger
	config    DispatchConfig
	now       func() time.Time
}

// NewDispatcher creates a new Dispatcher. lock and publisher may be nil.
func NewDispatcher(repo DispatchRepository, sender EmailSender, lock DispatchLock, publisher EventPublisher, logger *slog.Logger, cfg DispatchConfig) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	cfg.AppBaseURL = strings.TrimRight(cfg.AppBaseURL, "/")
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		repo:      repo,
		sender:    sender,
		lock:      lock,
		publisher: publisher,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
}

// DispatchResult summarizes one sweep.
type DispatchResult struct {
	DispatchDate         domain.Date `json:"dispatch_date"`
	Evaluated            int         `json:"evaluated"`
	Due                  int         `json:"due"`
	NotificationsCreated int         `json:"notifications_created"`
	Sent                 int         `json:"sent"`
	Failed               int         `json:"failed"`
	AlreadySent          int         `json:"already_sent"`
	SkippedNoRecipient   int         `json:"skipped_no_recipient"`
	Cancelled            bool        `json:"cancelled"`
	AlreadyRunning       bool        `json:"already_running"`
}

type dispatchOutcome int

const (
	outcomeSent dispatchOutcome = iota
	outcomeAlreadySent
	outcomeNoRecipient
	outcomeFailed
)

// RunDailySweep evaluates every active subscription against today.
//
// Per-reminder failures are logged and counted, never returned. An error is
// returned only when the candidate list cannot be read or ctx is cancelled;
// in the latter case the partial result is returned with it.
func (d *Dispatcher) RunDailySweep(ctx context.Context, today domain.Date) (*DispatchResult, error) {
	result := &DispatchResult{DispatchDate: today}

	if d.lock != nil {
		key := "reminder-dispatch:" + today.String()
		token, acquired, err := d.lock.TryLock(ctx, key, d.config.LockTTL)
		switch {
		case err != nil:
			d.logger.Warn("dispatch lock unavailable, continuing without it", "dispatch_date", today.String(), "error", err)
		case !acquired:
			d.logger.Info("reminder dispatch already running", "dispatch_date", today.String())
			result.AlreadyRunning = true
			return result, nil
		default:
			defer func() {
				unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
				defer cancel()
				if err := d.lock.Unlock(unlockCtx, key, token); err != nil {
					d.logger.Warn("failed to release dispatch lock", "dispatch_date", today.String(), "error", err)
				}
			}()
		}
	}

	candidates, err := d.repo.ListActiveSubscriptionsWithReminders(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("list dispatch candidates: %w", err)
	}

	d.logger.Info("starting reminder dispatch", "dispatch_date", today.String(), "candidates", len(candidates))

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			result.Cancelled = true
			d.logger.Warn("reminder dispatch cancelled", "dispatch_date", today.String(), "evaluated", result.Evaluated)
			return result, err
		}
		result.Evaluated++

		sub := candidate.Subscription
		due := domain.DueReminders(sub, today)
		if len(due) == 0 {
			continue
		}
		days := domain.DaysUntilExpiry(sub, today)

		for _, reminder := range due {
			result.Due++

			if d.notify(ctx, sub, reminder, today, days) {
				result.NotificationsCreated++
			}

			outcome, err := d.deliver(ctx, candidate, reminder, today, days)
			switch outcome {
			case outcomeSent:
				result.Sent++
			case outcomeAlreadySent:
				result.AlreadySent++
			case outcomeNoRecipient:
				result.SkippedNoRecipient++
			case outcomeFailed:
				result.Failed++
				d.logger.Error("reminder email failed",
					"subscription_id", sub.ID,
					"reminder_id", reminder.ID,
					"dispatch_date", today.String(),
					"error", err,
				)
			}
		}
	}

	d.logger.Info("reminder dispatch finished",
		"dispatch_date", today.String(),
		"evaluated", result.Evaluated,
		"due", result.Due,
		"sent", result.Sent,
		"failed", result.Failed,
		"already_sent", result.AlreadySent,
		"skipped_no_recipient", result.SkippedNoRecipient,
	)
	return result, nil
}

func notificationDedupeKey(subscriptionID, reminderID uuid.UUID, today domain.Date) string {
	return fmt.Sprintf("%s:%s:%s:%s", domain.NotificationTypeExpiryReminder, subscriptionID, reminderID, today)
}

// notify writes the in-app notification and reports whether a new row was
// created. Failures are logged and do not block the email.
func (d *Dispatcher) notify(ctx context.Context, sub domain.Subscription, reminder domain.Reminder, today domain.Date, days int) bool {
	subID := sub.ID
	reminderID := reminder.ID
	created, err := d.repo.CreateInAppNotification(ctx, domain.InAppNotification{
		ID:              uuid.New(),
		UserID:          sub.UserID,
		SubscriptionID:  &subID,
		ReminderID:      &reminderID,
		Type:            domain.NotificationTypeExpiryReminder,
		Title:           ReminderTitle(sub, days),
		Body:            ReminderBody(sub, days),
		DaysUntilExpiry: days,
		DedupeKey:       notificationDedupeKey(sub.ID, reminder.ID, today),
	})
	if err != nil {
		d.logger.Warn("failed to create in-app notification",
			"subscription_id", sub.ID,
			"reminder_id", reminder.ID,
			"error", err,
		)
		return false
	}
	return created
}

func (d *Dispatcher) deliver(ctx context.Context, candidate domain.DispatchCandidate, reminder domain.Reminder, today domain.Date, days int) (dispatchOutcome, error) {
	sub := candidate.Subscription
	recipient := candidate.Recipient()
	if recipient == "" {
		return outcomeNoRecipient, nil
	}

	claimed, err := d.repo.ClaimEmailDispatch(ctx, domain.EmailDispatchClaim{
		SubscriptionID:  sub.ID,
		ReminderID:      reminder.ID,
		UserID:          sub.UserID,
		Recipient:       recipient,
		DispatchDate:    today,
		DaysUntilExpiry: days,
	}, d.now().Add(-d.config.StaleAfter))
	if err != nil {
		return outcomeFailed, fmt.Errorf("%w: claim: %v", ErrDispatchTransient, err)
	}
	if claimed == nil {
		return outcomeAlreadySent, nil
	}

	email, err := RenderReminderEmail(sub, days, d.config.AppBaseURL)
	if err != nil {
		d.markFailed(ctx, claimed.ID, err)
		return outcomeFailed, fmt.Errorf("%w: %v", ErrDispatchTransient, err)
	}

	if err := d.repo.MarkEmailSending(ctx, claimed.ID); err != nil {
		d.markFailed(ctx, claimed.ID, err)
		return outcomeFailed, fmt.Errorf("%w: mark sending: %v", ErrDispatchTransient, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	sendErr := d.sender.SendEmail(sendCtx, recipient, email.Subject, email.HTMLBody)
	cancel()

	event := reminderEmailEvent{
		EmailLogID:      claimed.ID,
		SubscriptionID:  sub.ID,
		ReminderID:      reminder.ID,
		UserID:          sub.UserID,
		DispatchDate:    today,
		DaysUntilExpiry: days,
		Timestamp:       time.Now(),
	}

	if sendErr != nil {
		d.markFailed(ctx, claimed.ID, sendErr)
		reason := sendErr.Error()
		event.FailureReason = &reason
		publishEvent(ctx, d.publisher, "reminder.email.failed", event)
		return outcomeFailed, fmt.Errorf("%w: send: %v", ErrDispatchTransient, sendErr)
	}

	markCtx, markCancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer markCancel()
	if err := d.repo.MarkEmailSent(markCtx, claimed.ID, d.now().UTC()); err != nil {
		// The email left; a stale reclaim could resend it once.
		d.logger.Warn("failed to mark reminder email sent", "email_log_id", claimed.ID, "error", err)
	}
	publishEvent(ctx, d.publisher, "reminder.email.sent", event)

	return outcomeSent, nil
}

func (d *Dispatcher) markFailed(ctx context.Context, logID uuid.UUID, cause error) {
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()
	if err := d.repo.MarkEmailFailed(markCtx, logID, cause.Error()); err != nil {
		d.logger.Warn("failed to mark reminder email failed", "email_log_id", logID, "error", err)
	}
}

type reminderEmailEvent struct {
	EmailLogID      uuid.UUID   `json:"email_log_id"`
	SubscriptionID  uuid.UUID   `json:"subscription_id"`
	ReminderID      uuid.UUID   `json:"reminder_id"`
	UserID          uuid.UUID   `json:"user_id"`
	DispatchDate    domain.Date `json:"dispatch_date"`
	DaysUntilExpiry int         `json:"days_until_expiry"`
	FailureReason   *string     `json:"failure_reason,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
}
