package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenewalInputValidate(t *testing.T) {
	start := NewDate(2025, time.January, 1)

	tests := []struct {
		name    string
		input   RenewalInput
		wantErr bool
	}{
		{
			name:  "valid period",
			input: RenewalInput{PurchaseDate: start, ExpiryDate: start.AddDays(365), PurchaseAmountPKR: decimal.NewFromInt(1200)},
		},
		{
			name:  "zero amount is allowed",
			input: RenewalInput{PurchaseDate: start, ExpiryDate: start.AddDays(30), PurchaseAmountPKR: decimal.Zero},
		},
		{
			name:    "expiry equal to purchase",
			input:   RenewalInput{PurchaseDate: start, ExpiryDate: start, PurchaseAmountPKR: decimal.NewFromInt(1)},
			wantErr: true,
		},
		{
			name:    "expiry before purchase",
			input:   RenewalInput{PurchaseDate: start, ExpiryDate: start.AddDays(-1), PurchaseAmountPKR: decimal.NewFromInt(1)},
			wantErr: true,
		},
		{
			name:    "negative pkr amount",
			input:   RenewalInput{PurchaseDate: start, ExpiryDate: start.AddDays(30), PurchaseAmountPKR: decimal.NewFromInt(-5)},
			wantErr: true,
		},
		{
			name: "negative usd amount",
			input: RenewalInput{
				PurchaseDate:      start,
				ExpiryDate:        start.AddDays(30),
				PurchaseAmountPKR: decimal.NewFromInt(5),
				PurchaseAmountUSD: decimal.NewNullDecimal(decimal.NewFromFloat(-0.5)),
			},
			wantErr: true,
		},
		{
			name:    "missing dates",
			input:   RenewalInput{PurchaseAmountPKR: decimal.NewFromInt(5)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPeriod)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewSubscriptionInputValidate_DefaultsReminders(t *testing.T) {
	in := NewSubscriptionInput{
		ServiceName:       "  example.com hosting ",
		PurchaseDate:      NewDate(2025, time.January, 1),
		ExpiryDate:        NewDate(2026, time.January, 1),
		PurchaseAmountPKR: decimal.NewFromInt(1000),
	}

	require.NoError(t, in.Validate())
	assert.Equal(t, "example.com hosting", in.ServiceName)
	assert.Equal(t, DefaultReminderDays, in.ReminderDays)
}

func TestNewSubscriptionInputValidate_KeepsExplicitEmptyReminders(t *testing.T) {
	in := NewSubscriptionInput{
		ServiceName:       "VPS",
		PurchaseDate:      NewDate(2025, time.January, 1),
		ExpiryDate:        NewDate(2026, time.January, 1),
		PurchaseAmountPKR: decimal.NewFromInt(1000),
		ReminderDays:      []int{},
	}

	require.NoError(t, in.Validate())
	assert.Empty(t, in.ReminderDays)
}

func TestNewSubscriptionInputValidate_RejectsBadReminder(t *testing.T) {
	in := NewSubscriptionInput{
		ServiceName:       "VPS",
		PurchaseDate:      NewDate(2025, time.January, 1),
		ExpiryDate:        NewDate(2026, time.January, 1),
		PurchaseAmountPKR: decimal.NewFromInt(1000),
		ReminderDays:      []int{7, -1},
	}

	assert.ErrorIs(t, in.Validate(), ErrInvalidField)
}

func TestSnapshotAndApplyRenewal(t *testing.T) {
	vendor := "Namecheap"
	newVendor := "Porkbun"
	sub := Subscription{
		ID:                uuid.New(),
		UserID:            uuid.New(),
		ServiceName:       "example.com",
		PurchaseDate:      NewDate(2024, time.January, 1),
		ExpiryDate:        NewDate(2025, time.January, 1),
		PurchaseAmountPKR: decimal.NewFromInt(1000),
		Vendor:            &vendor,
		IsActive:          false,
	}

	snapshot := SnapshotPeriod(sub)
	require.NotNil(t, snapshot.SubscriptionID)
	assert.Equal(t, sub.ID, *snapshot.SubscriptionID)
	assert.Equal(t, sub.PurchaseDate, snapshot.PurchaseDate)
	assert.Equal(t, sub.ExpiryDate, snapshot.ExpiryDate)
	assert.True(t, snapshot.PurchaseAmountPKR.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, &vendor, snapshot.Vendor)

	renewed := ApplyRenewal(sub, RenewalInput{
		PurchaseDate:      NewDate(2025, time.January, 1),
		ExpiryDate:        NewDate(2026, time.January, 1),
		PurchaseAmountPKR: decimal.NewFromInt(1200),
		Vendor:            &newVendor,
	})
	assert.Equal(t, NewDate(2026, time.January, 1), renewed.ExpiryDate)
	assert.True(t, renewed.PurchaseAmountPKR.Equal(decimal.NewFromInt(1200)))
	assert.Equal(t, &newVendor, renewed.Vendor)
	assert.False(t, renewed.IsActive, "renewal must not touch the active flag")
	assert.Equal(t, NewDate(2025, time.January, 1), sub.ExpiryDate, "original value must be left alone")
}

func TestDateJSON(t *testing.T) {
	var payload struct {
		A Date `json:"a"`
		B Date `json:"b"`
		C Date `json:"c"`
	}
	err := json.Unmarshal([]byte(`{"a":"2025-01-01","b":"2025-03-04T22:00:00Z","c":null}`), &payload)
	require.NoError(t, err)
	assert.Equal(t, NewDate(2025, time.January, 1), payload.A)
	assert.Equal(t, NewDate(2025, time.March, 4), payload.B)
	assert.True(t, payload.C.IsZero())

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"2025-01-01","b":"2025-03-04","c":null}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"a":"01/02/2025"}`), &payload))
}
