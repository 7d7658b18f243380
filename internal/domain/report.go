package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionReport is the typed aggregate consumed by reporting and export.
type SubscriptionReport struct {
	AsOf         Date              `json:"as_of"`
	Total        int               `json:"total"`
	StatusCounts map[Status]int    `json:"status_counts"`
	Categories   []CategorySummary `json:"categories"`
	Monthly      []MonthlySpend    `json:"monthly"`
}

// CategorySummary totals the current periods of the subscriptions in one
// category. Uncategorized subscriptions have a nil CategoryID.
type CategorySummary struct {
	CategoryID   *uuid.UUID      `json:"category_id,omitempty"`
	CategoryName string          `json:"category_name"`
	Count        int             `json:"count"`
	ActiveCount  int             `json:"active_count"`
	SpendPKR     decimal.Decimal `json:"spend_pkr"`
	SpendUSD     decimal.Decimal `json:"spend_usd"`
}

// MonthlySpend totals purchases, closed and current, by purchase month.
type MonthlySpend struct {
	Month     string          `json:"month"` // YYYY-MM
	Purchases int             `json:"purchases"`
	SpendPKR  decimal.Decimal `json:"spend_pkr"`
	SpendUSD  decimal.Decimal `json:"spend_usd"`
}
