package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/subtrack/subscription-service/internal/domain"
)

const historyColumns = `
    h.id, h.subscription_id, h.user_id, h.service_name, h.purchase_date, h.expiry_date,
    h.purchase_amount_pkr, h.purchase_amount_usd, h.vendor, h.vendor_link, h.created_at`

func scanHistoryRows(rows pgx.Rows) ([]domain.SubscriptionHistory, error) {
	defer rows.Close()

	history := make([]domain.SubscriptionHistory, 0)
	for rows.Next() {
		var h domain.SubscriptionHistory
		if err := rows.Scan(
			&h.ID,
			&h.SubscriptionID,
			&h.UserID,
			&h.ServiceName,
			&h.PurchaseDate.Time,
			&h.ExpiryDate.Time,
			&h.PurchaseAmountPKR,
			&h.PurchaseAmountUSD,
			&h.Vendor,
			&h.VendorLink,
			&h.CreatedAt,
		); err != nil {
			return nil, err
		}
		h.PurchaseDate = domain.DateOf(h.PurchaseDate.Time)
		h.ExpiryDate = domain.DateOf(h.ExpiryDate.Time)
		history = append(history, h)
	}
	return history, rows.Err()
}

// ListHistory returns the closed periods of one subscription, oldest purchase
// first.
func (r *PostgresRepository) ListHistory(ctx context.Context, userID, subscriptionID uuid.UUID) ([]domain.SubscriptionHistory, error) {
	query := `
        SELECT ` + historyColumns + `
        FROM subscription_history h
        WHERE h.subscription_id = $1 AND h.user_id = $2
        ORDER BY h.purchase_date ASC, h.created_at ASC
    `
	rows, err := r.db.Query(ctx, query, subscriptionID, userID)
	if err != nil {
		return nil, err
	}
	return scanHistoryRows(rows)
}

// ListHistoryByUser returns every closed period the user owns, including
// those detached from deleted subscriptions.
func (r *PostgresRepository) ListHistoryByUser(ctx context.Context, userID uuid.UUID) ([]domain.SubscriptionHistory, error) {
	query := `
        SELECT ` + historyColumns + `
        FROM subscription_history h
        WHERE h.user_id = $1
        ORDER BY h.purchase_date ASC, h.created_at ASC
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return scanHistoryRows(rows)
}
