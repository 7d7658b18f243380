/**
 * @description
 * Core business logic for the subscription tracker.
 * The Service layer resolves ownership through the repository, validates every
 * write before it reaches the database and derives statuses on read.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/subtrack/subscription-service/internal/domain"
)

const (
	eventsExchange = "subtrack.events"

	defaultRenewalTimeout = 15 * time.Second
)

// Repository defines the database operations the service needs.
type Repository interface {
	EnsureUser(ctx context.Context, clerkUserID, email string) (uuid.UUID, error)

	CreateSubscription(ctx context.Context, userID uuid.UUID, in domain.NewSubscriptionInput) (*domain.Subscription, error)
	GetSubscription(ctx context.Context, userID, subscriptionID uuid.UUID) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error)
	UpdateSubscription(ctx context.Context, userID, subscriptionID uuid.UUID, upd domain.SubscriptionUpdate) (*domain.Subscription, error)
	DeleteSubscription(ctx context.Context, userID, subscriptionID uuid.UUID) error
	SetActiveFlag(ctx context.Context, userID, subscriptionID uuid.UUID, active bool) (*domain.Subscription, error)
	WriteRenewal(ctx context.Context, userID, subscriptionID uuid.UUID, in domain.RenewalInput) (*domain.Subscription, *domain.SubscriptionHistory, error)

	ListHistory(ctx context.Context, userID, subscriptionID uuid.UUID) ([]domain.SubscriptionHistory, error)
	ListHistoryByUser(ctx context.Context, userID uuid.UUID) ([]domain.SubscriptionHistory, error)

	ListReminders(ctx context.Context, userID, subscriptionID uuid.UUID) ([]domain.Reminder, error)
	AddReminder(ctx context.Context, userID, subscriptionID uuid.UUID, daysBefore int, enabled bool) (*domain.Reminder, error)
	UpdateReminder(ctx context.Context, userID, subscriptionID, reminderID uuid.UUID, upd domain.ReminderUpdate) (*domain.Reminder, error)
	DeleteReminder(ctx context.Context, userID, subscriptionID, reminderID uuid.UUID) error

	ListInAppNotifications(ctx context.Context, userID uuid.UUID, opts domain.NotificationListOptions) ([]domain.InAppNotification, error)
	CountUnreadInAppNotifications(ctx context.Context, userID uuid.UUID) (int, error)
	MarkInAppNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllInAppNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error)

	CreateCategory(ctx context.Context, userID uuid.UUID, name string, color *string) (*domain.Category, error)
	ListCategories(ctx context.Context, userID uuid.UUID) ([]domain.Category, error)
}

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Service provides the business logic for subscription management.
type Service struct {
	repo           Repository
	publisher      EventPublisher
	loc            *time.Location
	now            func() time.Time
	renewalTimeout time.Duration
}

// NewService creates a new subscription service. Business dates are evaluated
// in the given IANA timezone.
func NewService(repo Repository, publisher EventPublisher, timezone string) Service {
	return Service{
		repo:           repo,
		publisher:      publisher,
		loc:            LoadBusinessLocation(timezone),
		now:            time.Now,
		renewalTimeout: defaultRenewalTimeout,
	}
}

// LoadBusinessLocation resolves timezone, falling back to UTC.
func LoadBusinessLocation(timezone string) *time.Location {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.Printf("WARN: invalid timezone %q, defaulting to UTC", timezone)
		return time.UTC
	}
	return loc
}

// Today is the current calendar date in the business timezone.
func (s Service) Today() domain.Date {
	return domain.Today(s.now(), s.loc)
}

// SubscriptionView is a subscription together with the values derived from it
// on the day it was read.
type SubscriptionView struct {
	domain.Subscription
	Status          domain.Status `json:"status"`
	DaysUntilExpiry int           `json:"days_until_expiry"`
}

func newView(sub domain.Subscription, today domain.Date) SubscriptionView {
	if sub.Reminders == nil {
		sub.Reminders = []domain.Reminder{}
	}
	return SubscriptionView{
		Subscription:    sub,
		Status:          domain.Classify(sub, today),
		DaysUntilExpiry: domain.DaysUntilExpiry(sub, today),
	}
}

// EnsureUser returns the internal id for a verified identity, creating the
// user row on first sight.
func (s Service) EnsureUser(ctx context.Context, clerkUserID, email string) (uuid.UUID, error) {
	if strings.TrimSpace(clerkUserID) == "" {
		return uuid.Nil, fmt.Errorf("%w: user ID cannot be empty", ErrInvalidInput)
	}
	return s.repo.EnsureUser(ctx, clerkUserID, strings.TrimSpace(email))
}

// CreateSubscription stores a new subscription with its first billing period.
// Default reminders are attached when the caller supplies none.
func (s Service) CreateSubscription(ctx context.Context, userID uuid.UUID, in domain.NewSubscriptionInput) (*SubscriptionView, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	sub, err := s.repo.CreateSubscription(ctx, userID, in)
	if err != nil {
		return nil, translateStoreError(err)
	}

	view := newView(*sub, s.Today())
	return &view, nil
}

// GetSubscription returns one subscription owned by userID.
func (s Service) GetSubscription(ctx context.Context, userID, subscriptionID uuid.UUID) (*SubscriptionView, error) {
	sub, err := s.repo.GetSubscription(ctx, userID, subscriptionID)
	if err != nil {
		return nil, translateStoreError(err)
	}

	view := newView(*sub, s.Today())
	return &view, nil
}

// ListSubscriptions returns the user's subscriptions ordered by expiry date,
// optionally narrowed to one derived status.
func (s Service) ListSubscriptions(ctx context.Context, userID uuid.UUID, status *domain.Status) ([]SubscriptionView, error) {
	subs, err := s.repo.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, translateStoreError(err)
	}

	today := s.Today()
	views := make([]SubscriptionView, 0, len(subs))
	for _, sub := range subs {
		view := newView(sub, today)
		if status != nil && view.Status != *status {
			continue
		}
		views = append(views, view)
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].ExpiryDate.Before(views[j].ExpiryDate.Time)
	})
	return views, nil
}

// UpdateSubscription edits descriptive fields. The billing period only moves
// through Renew.
func (s Service) UpdateSubscription(ctx context.Context, userID, subscriptionID uuid.UUID, upd domain.SubscriptionUpdate) (*SubscriptionView, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	if upd.ServiceName != nil {
		trimmed := strings.TrimSpace(*upd.ServiceName)
		upd.ServiceName = &trimmed
	}

	sub, err := s.repo.UpdateSubscription(ctx, userID, subscriptionID, upd)
	if err != nil {
		return nil, translateStoreError(err)
	}

	view := newView(*sub, s.Today())
	return &view, nil
}

// DeleteSubscription removes a subscription with its reminders, delivery logs
// and notifications. History rows outlive it.
func (s Service) DeleteSubscription(ctx context.Context, userID, subscriptionID uuid.UUID) error {
	return translateStoreError(s.repo.DeleteSubscription(ctx, userID, subscriptionID))
}

// SetActive flips the user-controlled active flag. Nothing else changes.
func (s Service) SetActive(ctx context.Context, userID, subscriptionID uuid.UUID, active bool) (*SubscriptionView, error) {
	sub, err := s.repo.SetActiveFlag(ctx, userID, subscriptionID, active)
	if err != nil {
		return nil, translateStoreError(err)
	}

	view := newView(*sub, s.Today())
	s.publishEvent(ctx, "subscription.status_changed", subscriptionEvent{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		ServiceName:    sub.ServiceName,
		IsActive:       sub.IsActive,
		Status:         view.Status,
		ExpiryDate:     sub.ExpiryDate,
		Timestamp:      time.Now(),
	})
	return &view, nil
}

// Renew closes the current billing period into history and rolls the
// subscription forward to the period in `in`, atomically.
//
// The write runs detached from the caller's cancellation so that a dropped
// request cannot interrupt it half way; it is still bounded by a timeout.
func (s Service) Renew(ctx context.Context, userID, subscriptionID uuid.UUID, in domain.RenewalInput) (*SubscriptionView, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.renewalTimeout)
	defer cancel()

	sub, snapshot, err := s.repo.WriteRenewal(writeCtx, userID, subscriptionID, in)
	if err != nil {
		if translated := translateStoreError(err); errors.Is(translated, ErrNotFound) {
			return nil, translated
		}
		return nil, fmt.Errorf("%w: %v", ErrRenewalFailed, err)
	}

	view := newView(*sub, s.Today())
	event := subscriptionEvent{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		ServiceName:    sub.ServiceName,
		IsActive:       sub.IsActive,
		Status:         view.Status,
		ExpiryDate:     sub.ExpiryDate,
		Timestamp:      time.Now(),
	}
	if snapshot != nil {
		event.HistoryID = &snapshot.ID
		event.PreviousExpiry = &snapshot.ExpiryDate
	}
	s.publishEvent(ctx, "subscription.renewed", event)

	return &view, nil
}

// ListHistory returns the closed billing periods of one subscription ordered
// by purchase date.
func (s Service) ListHistory(ctx context.Context, userID, subscriptionID uuid.UUID) ([]domain.SubscriptionHistory, error) {
	if _, err := s.repo.GetSubscription(ctx, userID, subscriptionID); err != nil {
		return nil, translateStoreError(err)
	}

	history, err := s.repo.ListHistory(ctx, userID, subscriptionID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return history, nil
}

// ListHistoryByUser returns every closed period the user owns, including those
// of deleted subscriptions.
func (s Service) ListHistoryByUser(ctx context.Context, userID uuid.UUID) ([]domain.SubscriptionHistory, error) {
	history, err := s.repo.ListHistoryByUser(ctx, userID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return history, nil
}

// ListReminders returns the reminders of one subscription.
func (s Service) ListReminders(ctx context.Context, userID, subscriptionID uuid.UUID) ([]domain.Reminder, error) {
	reminders, err := s.repo.ListReminders(ctx, userID, subscriptionID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return reminders, nil
}

// AddReminder attaches a reminder. Offsets may repeat.
func (s Service) AddReminder(ctx context.Context, userID, subscriptionID uuid.UUID, daysBefore int, enabled bool) (*domain.Reminder, error) {
	if err := domain.ValidateReminderDays(daysBefore); err != nil {
		return nil, err
	}

	reminder, err := s.repo.AddReminder(ctx, userID, subscriptionID, daysBefore, enabled)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return reminder, nil
}

// UpdateReminder changes a reminder's offset or enabled flag.
func (s Service) UpdateReminder(ctx context.Context, userID, subscriptionID, reminderID uuid.UUID, upd domain.ReminderUpdate) (*domain.Reminder, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}

	reminder, err := s.repo.UpdateReminder(ctx, userID, subscriptionID, reminderID, upd)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return reminder, nil
}

// DeleteReminder removes a reminder.
func (s Service) DeleteReminder(ctx context.Context, userID, subscriptionID, reminderID uuid.UUID) error {
	return translateStoreError(s.repo.DeleteReminder(ctx, userID, subscriptionID, reminderID))
}

// DueReminders lists the user's reminders that fire on today.
func (s Service) DueReminders(ctx context.Context, userID uuid.UUID, today domain.Date) ([]domain.DueReminder, error) {
	subs, err := s.repo.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, translateStoreError(err)
	}

	due := make([]domain.DueReminder, 0)
	for _, sub := range subs {
		days := domain.DaysUntilExpiry(sub, today)
		for _, reminder := range domain.DueReminders(sub, today) {
			due = append(due, domain.DueReminder{
				SubscriptionID:  sub.ID.String(),
				ServiceName:     sub.ServiceName,
				ExpiryDate:      sub.ExpiryDate,
				DaysUntilExpiry: days,
				Reminder:        reminder,
			})
		}
	}
	return due, nil
}

// ListNotifications returns the user's inbox, newest first.
func (s Service) ListNotifications(ctx context.Context, userID uuid.UUID, opts domain.NotificationListOptions) ([]domain.InAppNotification, error) {
	items, err := s.repo.ListInAppNotifications(ctx, userID, opts)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return items, nil
}

// UnreadNotificationCount returns the number of unread inbox rows.
func (s Service) UnreadNotificationCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnreadInAppNotifications(ctx, userID)
}

// MarkNotificationRead marks one inbox row as read.
func (s Service) MarkNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	return translateStoreError(s.repo.MarkInAppNotificationRead(ctx, userID, notificationID))
}

// MarkAllNotificationsRead marks the whole inbox as read.
func (s Service) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.MarkAllInAppNotificationsRead(ctx, userID)
}

// CreateCategory adds a category; names are unique per user.
func (s Service) CreateCategory(ctx context.Context, userID uuid.UUID, name string, color *string) (*domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: category name is required", ErrInvalidInput)
	}

	category, err := s.repo.CreateCategory(ctx, userID, name, color)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return category, nil
}

// ListCategories returns the user's categories by name.
func (s Service) ListCategories(ctx context.Context, userID uuid.UUID) ([]domain.Category, error) {
	categories, err := s.repo.ListCategories(ctx, userID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return categories, nil
}

type subscriptionEvent struct {
	SubscriptionID uuid.UUID     `json:"subscription_id"`
	UserID         uuid.UUID     `json:"user_id"`
	ServiceName    string        `json:"service_name"`
	IsActive       bool          `json:"is_active"`
	Status         domain.Status `json:"status"`
	ExpiryDate     domain.Date   `json:"expiry_date"`
	HistoryID      *uuid.UUID    `json:"history_id,omitempty"`
	PreviousExpiry *domain.Date  `json:"previous_expiry_date,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

func (s Service) publishEvent(ctx context.Context, routingKey string, payload interface{}) {
	publishEvent(ctx, s.publisher, routingKey, payload)
}

func publishEvent(ctx context.Context, publisher EventPublisher, routingKey string, payload interface{}) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, eventsExchange, routingKey, payload); err != nil {
		log.Printf("WARN: failed to publish event %s: %v", routingKey, err)
	}
}
