package app

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subtrack/subscription-service/internal/domain"
)

func TestBuildReport(t *testing.T) {
	today := domain.NewDate(2025, time.June, 1)
	userID := uuid.New()
	hosting := domain.Category{ID: uuid.New(), UserID: userID, Name: "Hosting"}
	domains := domain.Category{ID: uuid.New(), UserID: userID, Name: "Domains"}

	vps := hostingSubscription(userID)
	vps.CategoryID = &hosting.ID
	vps.PurchaseDate = domain.NewDate(2025, time.January, 10)
	vps.ExpiryDate = domain.NewDate(2026, time.January, 10)
	vps.PurchaseAmountPKR = decimal.NewFromInt(5000)
	vps.PurchaseAmountUSD = decimal.NewNullDecimal(decimal.RequireFromString("17.99"))

	name := hostingSubscription(userID)
	name.CategoryID = &domains.ID
	name.PurchaseDate = domain.NewDate(2024, time.June, 15)
	name.ExpiryDate = domain.NewDate(2025, time.June, 15)
	name.PurchaseAmountPKR = decimal.NewFromInt(3000)

	paused := hostingSubscription(userID)
	paused.IsActive = false
	paused.PurchaseDate = domain.NewDate(2025, time.January, 3)
	paused.ExpiryDate = domain.NewDate(2025, time.February, 3)
	paused.PurchaseAmountPKR = decimal.NewFromInt(250)

	closed := domain.SubscriptionHistory{
		UserID:            userID,
		ServiceName:       "old vps",
		PurchaseDate:      domain.NewDate(2024, time.January, 10),
		ExpiryDate:        domain.NewDate(2025, time.January, 10),
		PurchaseAmountPKR: decimal.NewFromInt(4500),
		PurchaseAmountUSD: decimal.NewNullDecimal(decimal.RequireFromString("15.50")),
	}

	report := buildReport(today,
		[]domain.Subscription{vps, name, paused},
		[]domain.SubscriptionHistory{closed},
		[]domain.Category{hosting, domains},
	)

	assert.Equal(t, today, report.AsOf)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.StatusCounts[domain.StatusActive])
	assert.Equal(t, 1, report.StatusCounts[domain.StatusExpiringSoon])
	assert.Equal(t, 1, report.StatusCounts[domain.StatusInactive])
	assert.Equal(t, 0, report.StatusCounts[domain.StatusExpired])

	require.Len(t, report.Categories, 3)
	assert.Equal(t, "Domains", report.Categories[0].CategoryName)
	assert.Equal(t, "Hosting", report.Categories[1].CategoryName)
	assert.True(t, report.Categories[1].SpendUSD.Equal(decimal.RequireFromString("17.99")))
	assert.Equal(t, uncategorizedName, report.Categories[2].CategoryName)
	assert.Nil(t, report.Categories[2].CategoryID)
	assert.Equal(t, 0, report.Categories[2].ActiveCount)

	require.Len(t, report.Monthly, 3)
	assert.Equal(t, "2024-01", report.Monthly[0].Month)
	assert.Equal(t, "2024-06", report.Monthly[1].Month)
	jan := report.Monthly[2]
	assert.Equal(t, "2025-01", jan.Month)
	assert.Equal(t, 2, jan.Purchases)
	assert.True(t, jan.SpendPKR.Equal(decimal.NewFromInt(5250)))
	assert.True(t, jan.SpendUSD.Equal(decimal.RequireFromString("17.99")))
}

func TestBuildReport_Empty(t *testing.T) {
	report := buildReport(domain.NewDate(2025, time.June, 1), nil, nil, nil)

	assert.Equal(t, 0, report.Total)
	assert.Len(t, report.StatusCounts, len(domain.Statuses))
	assert.NotNil(t, report.Categories)
	assert.NotNil(t, report.Monthly)
}

func TestRenderReminderEmail(t *testing.T) {
	sub := hostingSubscription(uuid.New())
	sub.ServiceName = "<b>shop</b>"
	sub.PurchaseAmountUSD = decimal.NewNullDecimal(decimal.NewFromInt(12))

	today, err := RenderReminderEmail(sub, 0, "https://app.example.com")
	require.NoError(t, err)
	assert.Equal(t, "Reminder: <b>shop</b> expires today", today.Subject)
	assert.Contains(t, today.HTMLBody, "&lt;b&gt;shop&lt;/b&gt;")
	assert.Contains(t, today.HTMLBody, "2025-01-01")
	assert.Contains(t, today.HTMLBody, "PKR 1000.00 / USD 12.00")
	assert.Contains(t, today.HTMLBody, "https://app.example.com/subscriptions/"+sub.ID.String())
	assert.Contains(t, today.HTMLBody, "Namecheap")

	week, err := RenderReminderEmail(sub, 7, "")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(week.Subject, "expires in 7 days"))
	assert.NotContains(t, week.HTMLBody, "/subscriptions/")

	assert.Equal(t, "<b>shop</b> expires tomorrow", ReminderTitle(sub, 1))
}
