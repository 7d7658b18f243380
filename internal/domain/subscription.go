/**
 * @description
 * This file defines the core domain models for the subscription tracker.
 * It includes the Subscription aggregate with its owned reminders, the immutable
 * history snapshots written on renewal, and the named partial-update types each
 * mutating operation accepts.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Subscription represents one tracked service owned by a user, holding its
// current billing period.
type Subscription struct {
	ID                uuid.UUID           `json:"id"`
	UserID            uuid.UUID           `json:"user_id"`
	ServiceName       string              `json:"service_name"`
	DomainName        *string             `json:"domain_name,omitempty"`
	Vendor            *string             `json:"vendor,omitempty"`
	VendorLink        *string             `json:"vendor_link,omitempty"`
	Email             *string             `json:"email,omitempty"`
	Username          *string             `json:"username,omitempty"`
	Password          *string             `json:"password,omitempty"` // opaque secret, stored as given
	Notes             *string             `json:"notes,omitempty"`
	PurchaseDate      Date                `json:"purchase_date"`
	ExpiryDate        Date                `json:"expiry_date"`
	PurchaseAmountPKR decimal.Decimal     `json:"purchase_amount_pkr"`
	PurchaseAmountUSD decimal.NullDecimal `json:"purchase_amount_usd"`
	IsActive          bool                `json:"is_active"`
	CategoryID        *uuid.UUID          `json:"category_id,omitempty"`
	Reminders         []Reminder          `json:"reminders"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Reminder is an offset from the expiry date on which a notification fires.
// Several reminders of one subscription may share DaysBefore; each is evaluated
// on its own.
type Reminder struct {
	ID             uuid.UUID `json:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	DaysBefore     int       `json:"days_before"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
}

// SubscriptionHistory is the snapshot of a billing period closed by a renewal.
// Rows are append-only. SubscriptionID becomes nil once the parent subscription
// is deleted; the row itself is kept.
type SubscriptionHistory struct {
	ID                uuid.UUID           `json:"id"`
	SubscriptionID    *uuid.UUID          `json:"subscription_id,omitempty"`
	UserID            uuid.UUID           `json:"user_id"`
	ServiceName       string              `json:"service_name"`
	PurchaseDate      Date                `json:"purchase_date"`
	ExpiryDate        Date                `json:"expiry_date"`
	PurchaseAmountPKR decimal.Decimal     `json:"purchase_amount_pkr"`
	PurchaseAmountUSD decimal.NullDecimal `json:"purchase_amount_usd"`
	Vendor            *string             `json:"vendor,omitempty"`
	VendorLink        *string             `json:"vendor_link,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}

// Category groups subscriptions for reporting.
type Category struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	Color     *string   `json:"color,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSubscriptionInput carries every field a caller may set when creating a
// subscription. The first billing period is mandatory.
type NewSubscriptionInput struct {
	ServiceName       string
	DomainName        *string
	Vendor            *string
	VendorLink        *string
	Email             *string
	Username          *string
	Password          *string
	Notes             *string
	PurchaseDate      Date
	ExpiryDate        Date
	PurchaseAmountPKR decimal.Decimal
	PurchaseAmountUSD decimal.NullDecimal
	CategoryID        *uuid.UUID
	ReminderDays      []int
}

// SubscriptionUpdate enumerates the descriptive fields an edit may change. Nil
// pointers leave the stored value untouched. Billing period fields are absent on
// purpose: they only move through RenewalInput.
type SubscriptionUpdate struct {
	ServiceName   *string
	DomainName    *string
	Vendor        *string
	VendorLink    *string
	Email         *string
	Username      *string
	Password      *string
	Notes         *string
	CategoryID    *uuid.UUID
	ClearCategory bool
}

// RenewalInput is the new billing period a renewal rolls the subscription to.
// Vendor and VendorLink are taken as given: the caller decides whether they are
// carried over from the current period or freshly supplied.
type RenewalInput struct {
	PurchaseDate      Date
	ExpiryDate        Date
	PurchaseAmountPKR decimal.Decimal
	PurchaseAmountUSD decimal.NullDecimal
	Vendor            *string
	VendorLink        *string
}

// ReminderUpdate enumerates the mutable reminder fields.
type ReminderUpdate struct {
	DaysBefore *int
	Enabled    *bool
}

// SnapshotPeriod captures the current billing period of sub as a history entry.
func SnapshotPeriod(sub Subscription) SubscriptionHistory {
	subID := sub.ID
	return SubscriptionHistory{
		SubscriptionID:    &subID,
		UserID:            sub.UserID,
		ServiceName:       sub.ServiceName,
		PurchaseDate:      sub.PurchaseDate,
		ExpiryDate:        sub.ExpiryDate,
		PurchaseAmountPKR: sub.PurchaseAmountPKR,
		PurchaseAmountUSD: sub.PurchaseAmountUSD,
		Vendor:            sub.Vendor,
		VendorLink:        sub.VendorLink,
	}
}

// ApplyRenewal returns sub rolled forward to the period described by in.
// IsActive and every descriptive field other than the vendor pair are kept.
func ApplyRenewal(sub Subscription, in RenewalInput) Subscription {
	sub.PurchaseDate = in.PurchaseDate
	sub.ExpiryDate = in.ExpiryDate
	sub.PurchaseAmountPKR = in.PurchaseAmountPKR
	sub.PurchaseAmountUSD = in.PurchaseAmountUSD
	sub.Vendor = in.Vendor
	sub.VendorLink = in.VendorLink
	return sub
}
