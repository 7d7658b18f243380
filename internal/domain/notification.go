/**
 * @description
 * Domain models for the reminder dispatch path: the delivery log written per
 * email attempt and the in-app notification rows rendered by the inbox.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// EmailStatus is the delivery state of one reminder email.
type EmailStatus string

const (
	EmailStatusQueued  EmailStatus = "queued"
	EmailStatusSending EmailStatus = "sending"
	EmailStatusSent    EmailStatus = "sent"
	EmailStatusFailed  EmailStatus = "failed"
)

// NotificationTypeExpiryReminder tags notifications produced by the daily sweep.
const NotificationTypeExpiryReminder = "expiry_reminder"

// EmailLog records one reminder email keyed by (subscription, reminder, day).
// ReminderID is nil once the reminder has been deleted.
type EmailLog struct {
	ID              uuid.UUID   `json:"id"`
	SubscriptionID  uuid.UUID   `json:"subscription_id"`
	ReminderID      *uuid.UUID  `json:"reminder_id,omitempty"`
	UserID          uuid.UUID   `json:"user_id"`
	Recipient       string      `json:"recipient"`
	DispatchDate    Date        `json:"dispatch_date"`
	DaysUntilExpiry int         `json:"days_until_expiry"`
	Status          EmailStatus `json:"status"`
	Attempts        int         `json:"attempts"`
	LastError       *string     `json:"last_error,omitempty"`
	SentAt          *time.Time  `json:"sent_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// EmailDispatchClaim is what the sweep asks the store to reserve before sending.
type EmailDispatchClaim struct {
	SubscriptionID  uuid.UUID
	ReminderID      uuid.UUID
	UserID          uuid.UUID
	Recipient       string
	DispatchDate    Date
	DaysUntilExpiry int
}

// InAppNotification is an inbox row shown to the subscription owner.
type InAppNotification struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	SubscriptionID  *uuid.UUID `json:"subscription_id,omitempty"`
	ReminderID      *uuid.UUID `json:"reminder_id,omitempty"`
	Type            string     `json:"type"`
	Title           string     `json:"title"`
	Body            string     `json:"body"`
	DaysUntilExpiry int        `json:"days_until_expiry"`
	DedupeKey       string     `json:"-"`
	ReadAt          *time.Time `json:"read_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// NotificationListOptions filters the inbox listing.
type NotificationListOptions struct {
	Limit      int
	Offset     int
	UnreadOnly bool
}

// DispatchCandidate is an active subscription with its reminders and the
// address reminder emails go to.
type DispatchCandidate struct {
	Subscription Subscription
	OwnerEmail   string
}

// Recipient picks the owner's address, falling back to the address stored on
// the subscription itself.
func (c DispatchCandidate) Recipient() string {
	if c.OwnerEmail != "" {
		return c.OwnerEmail
	}
	if c.Subscription.Email != nil {
		return *c.Subscription.Email
	}
	return ""
}
