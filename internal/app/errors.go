package app

import (
	"errors"
	"fmt"

	"github.com/subtrack/subscription-service/internal/domain"
	"github.com/subtrack/subscription-service/internal/store"
)

var (
	// ErrNotFound is returned when the target does not exist or belongs to
	// another user.
	ErrNotFound = errors.New("not found")
	// ErrInvalidPeriod is returned when a billing period fails validation.
	// Nothing has been written when it is returned.
	ErrInvalidPeriod = domain.ErrInvalidPeriod
	// ErrInvalidInput is returned for every other rejected request value.
	ErrInvalidInput = domain.ErrInvalidField
	// ErrConflict is returned when a uniquely named resource already exists.
	ErrConflict = errors.New("already exists")
	// ErrRenewalFailed is returned when the renewal transaction could not be
	// committed. The subscription and its history are left as they were.
	ErrRenewalFailed = errors.New("renewal failed, no changes were applied")
	// ErrDispatchTransient marks a per-reminder delivery failure. The sweep
	// records it and moves on; a later run the same day may retry.
	ErrDispatchTransient = errors.New("reminder dispatch failed")
)

// translateStoreError maps store sentinels onto the errors callers match on.
func translateStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrSubscriptionNotFound),
		errors.Is(err, store.ErrReminderNotFound),
		errors.Is(err, store.ErrNotificationNotFound),
		errors.Is(err, store.ErrCategoryNotFound),
		errors.Is(err, store.ErrUserNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, store.ErrCategoryExists):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
