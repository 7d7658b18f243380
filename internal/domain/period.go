package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidPeriod is returned when a billing period ends on or before it
	// starts, or carries a negative amount.
	ErrInvalidPeriod = errors.New("invalid billing period")
	// ErrInvalidField is returned for any other rejected field value.
	ErrInvalidField = errors.New("invalid field")
)

// DefaultReminderDays are created alongside a new subscription when the caller
// supplies none.
var DefaultReminderDays = []int{7, 1}

// MaxReminderDays bounds a reminder offset to a little over a year.
const MaxReminderDays = 400

// ValidatePeriod checks the invariants every stored billing period must hold.
func ValidatePeriod(purchase, expiry Date, amountPKR decimal.Decimal, amountUSD decimal.NullDecimal) error {
	if purchase.IsZero() || expiry.IsZero() {
		return fmt.Errorf("%w: purchase and expiry dates are required", ErrInvalidPeriod)
	}
	if !expiry.Time.After(purchase.Time) {
		return fmt.Errorf("%w: expiry date %s must be after purchase date %s", ErrInvalidPeriod, expiry, purchase)
	}
	if amountPKR.IsNegative() {
		return fmt.Errorf("%w: purchase amount (PKR) must not be negative", ErrInvalidPeriod)
	}
	if amountUSD.Valid && amountUSD.Decimal.IsNegative() {
		return fmt.Errorf("%w: purchase amount (USD) must not be negative", ErrInvalidPeriod)
	}
	return nil
}

// Validate checks the renewal period before anything is written.
func (in RenewalInput) Validate() error {
	return ValidatePeriod(in.PurchaseDate, in.ExpiryDate, in.PurchaseAmountPKR, in.PurchaseAmountUSD)
}

// Validate checks a creation request and fills in default reminders.
func (in *NewSubscriptionInput) Validate() error {
	in.ServiceName = strings.TrimSpace(in.ServiceName)
	if in.ServiceName == "" {
		return fmt.Errorf("%w: service name is required", ErrInvalidField)
	}
	if err := ValidatePeriod(in.PurchaseDate, in.ExpiryDate, in.PurchaseAmountPKR, in.PurchaseAmountUSD); err != nil {
		return err
	}
	if in.ReminderDays == nil {
		in.ReminderDays = append([]int(nil), DefaultReminderDays...)
	}
	for _, days := range in.ReminderDays {
		if err := ValidateReminderDays(days); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks an edit request.
func (in SubscriptionUpdate) Validate() error {
	if in.ServiceName != nil && strings.TrimSpace(*in.ServiceName) == "" {
		return fmt.Errorf("%w: service name cannot be empty", ErrInvalidField)
	}
	if in.CategoryID != nil && in.ClearCategory {
		return fmt.Errorf("%w: category cannot be set and cleared at once", ErrInvalidField)
	}
	return nil
}

// Validate checks a reminder edit.
func (in ReminderUpdate) Validate() error {
	if in.DaysBefore == nil && in.Enabled == nil {
		return fmt.Errorf("%w: nothing to update", ErrInvalidField)
	}
	if in.DaysBefore != nil {
		return ValidateReminderDays(*in.DaysBefore)
	}
	return nil
}

// ValidateReminderDays checks a single reminder offset.
func ValidateReminderDays(days int) error {
	if days < 0 || days > MaxReminderDays {
		return fmt.Errorf("%w: days_before must be between 0 and %d", ErrInvalidField, MaxReminderDays)
	}
	return nil
}
