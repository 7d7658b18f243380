package app

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/subtrack/subscription-service/internal/domain"
)

const uncategorizedName = "Uncategorized"

// BuildReport aggregates the user's subscriptions and purchase history as of
// today. It returns typed values only; formatting is left to the caller.
func (s Service) BuildReport(ctx context.Context, userID uuid.UUID, today domain.Date) (*domain.SubscriptionReport, error) {
	subs, err := s.repo.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	history, err := s.repo.ListHistoryByUser(ctx, userID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	categories, err := s.repo.ListCategories(ctx, userID)
	if err != nil {
		return nil, translateStoreError(err)
	}

	report := buildReport(today, subs, history, categories)
	return &report, nil
}

func buildReport(today domain.Date, subs []domain.Subscription, history []domain.SubscriptionHistory, categories []domain.Category) domain.SubscriptionReport {
	report := domain.SubscriptionReport{
		AsOf:         today,
		Total:        len(subs),
		StatusCounts: make(map[domain.Status]int, len(domain.Statuses)),
		Categories:   []domain.CategorySummary{},
		Monthly:      []domain.MonthlySpend{},
	}
	for _, status := range domain.Statuses {
		report.StatusCounts[status] = 0
	}

	names := make(map[uuid.UUID]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}

	byCategory := make(map[uuid.UUID]*domain.CategorySummary)
	var uncategorized *domain.CategorySummary
	monthly := make(map[string]*domain.MonthlySpend)

	addMonthly := func(purchase domain.Date, pkr decimal.Decimal, usd decimal.NullDecimal) {
		key := purchase.Time.Format("2006-01")
		entry, ok := monthly[key]
		if !ok {
			entry = &domain.MonthlySpend{Month: key, SpendPKR: decimal.Zero, SpendUSD: decimal.Zero}
			monthly[key] = entry
		}
		entry.Purchases++
		entry.SpendPKR = entry.SpendPKR.Add(pkr)
		if usd.Valid {
			entry.SpendUSD = entry.SpendUSD.Add(usd.Decimal)
		}
	}

	for _, sub := range subs {
		report.StatusCounts[domain.Classify(sub, today)]++

		var summary *domain.CategorySummary
		if sub.CategoryID == nil {
			if uncategorized == nil {
				uncategorized = &domain.CategorySummary{CategoryName: uncategorizedName, SpendPKR: decimal.Zero, SpendUSD: decimal.Zero}
			}
			summary = uncategorized
		} else {
			summary = byCategory[*sub.CategoryID]
			if summary == nil {
				id := *sub.CategoryID
				summary = &domain.CategorySummary{CategoryID: &id, CategoryName: names[id], SpendPKR: decimal.Zero, SpendUSD: decimal.Zero}
				byCategory[id] = summary
			}
		}
		summary.Count++
		if sub.IsActive {
			summary.ActiveCount++
		}
		summary.SpendPKR = summary.SpendPKR.Add(sub.PurchaseAmountPKR)
		if sub.PurchaseAmountUSD.Valid {
			summary.SpendUSD = summary.SpendUSD.Add(sub.PurchaseAmountUSD.Decimal)
		}

		addMonthly(sub.PurchaseDate, sub.PurchaseAmountPKR, sub.PurchaseAmountUSD)
	}

	for _, h := range history {
		addMonthly(h.PurchaseDate, h.PurchaseAmountPKR, h.PurchaseAmountUSD)
	}

	for _, summary := range byCategory {
		report.Categories = append(report.Categories, *summary)
	}
	sort.Slice(report.Categories, func(i, j int) bool {
		return report.Categories[i].CategoryName < report.Categories[j].CategoryName
	})
	if uncategorized != nil {
		report.Categories = append(report.Categories, *uncategorized)
	}

	for _, entry := range monthly {
		report.Monthly = append(report.Monthly, *entry)
	}
	sort.Slice(report.Monthly, func(i, j int) bool {
		return report.Monthly[i].Month < report.Monthly[j].Month
	})

	return report
}
