package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/subtrack/subscription-service/internal/domain"
)

const subscriptionColumns = `
    s.id, s.user_id, s.service_name, s.domain_name, s.vendor, s.vendor_link,
    s.email, s.username, s.password, s.notes, s.purchase_date, s.expiry_date,
    s.purchase_amount_pkr, s.purchase_amount_usd, s.is_active, s.category_id,
    s.created_at, s.updated_at`

func scanSubscription(row pgx.Row, extra ...any) (*domain.Subscription, error) {
	var sub domain.Subscription
	dest := []any{
		&sub.ID,
		&sub.UserID,
		&sub.ServiceName,
		&sub.DomainName,
		&sub.Vendor,
		&sub.VendorLink,
		&sub.Email,
		&sub.Username,
		&sub.Password,
		&sub.Notes,
		&sub.PurchaseDate.Time,
		&sub.ExpiryDate.Time,
		&sub.PurchaseAmountPKR,
		&sub.PurchaseAmountUSD,
		&sub.IsActive,
		&sub.CategoryID,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	sub.PurchaseDate = domain.DateOf(sub.PurchaseDate.Time)
	sub.ExpiryDate = domain.DateOf(sub.ExpiryDate.Time)
	return &sub, nil
}

func categoryOwned(ctx context.Context, q querier, userID uuid.UUID, categoryID *uuid.UUID) error {
	if categoryID == nil {
		return nil
	}
	var exists bool
	if err := q.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1 AND user_id = $2)", *categoryID, userID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrCategoryNotFound
	}
	return nil
}

// CreateSubscription inserts a subscription with its first billing period and
// initial reminders in one transaction.
func (r *PostgresRepository) CreateSubscription(ctx context.Context, userID uuid.UUID, in domain.NewSubscriptionInput) (*domain.Subscription, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := categoryOwned(ctx, tx, userID, in.CategoryID); err != nil {
		return nil, err
	}

	query := `
        INSERT INTO subscriptions AS s (
            id, user_id, service_name, domain_name, vendor, vendor_link,
            email, username, password, notes, purchase_date, expiry_date,
            purchase_amount_pkr, purchase_amount_usd, is_active, category_id
        )
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,TRUE,$15)
        RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(tx.QueryRow(ctx, query,
		uuid.New(),
		userID,
		in.ServiceName,
		in.DomainName,
		in.Vendor,
		in.VendorLink,
		in.Email,
		in.Username,
		in.Password,
		in.Notes,
		in.PurchaseDate.Time,
		in.ExpiryDate.Time,
		in.PurchaseAmountPKR,
		in.PurchaseAmountUSD,
		in.CategoryID,
	))
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}

	sub.Reminders = make([]domain.Reminder, 0, len(in.ReminderDays))
	for _, days := range in.ReminderDays {
		reminder, err := insertReminder(ctx, tx, sub.ID, days, true)
		if err != nil {
			return nil, fmt.Errorf("insert reminder: %w", err)
		}
		sub.Reminders = append(sub.Reminders, *reminder)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return sub, nil
}

// GetSubscription retrieves one subscription with its reminders.
func (r *PostgresRepository) GetSubscription(ctx context.Context, userID, subscriptionID uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions s WHERE s.id = $1 AND s.user_id = $2`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, subscriptionID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}

	reminders, err := loadReminders(ctx, r.db, []uuid.UUID{sub.ID})
	if err != nil {
		return nil, err
	}
	sub.Reminders = reminders[sub.ID]
	return sub, nil
}

// ListSubscriptions returns every subscription the user owns, with reminders,
// ordered by expiry date.
func (r *PostgresRepository) ListSubscriptions(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions s
        WHERE s.user_id = $1
        ORDER BY s.expiry_date ASC, s.created_at ASC
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := make([]domain.Subscription, 0)
	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
		ids = append(ids, sub.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reminders, err := loadReminders(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		subs[i].Reminders = reminders[subs[i].ID]
	}
	return subs, nil
}

// UpdateSubscription applies a descriptive edit. Period columns are never
// touched here.
func (r *PostgresRepository) UpdateSubscription(ctx context.Context, userID, subscriptionID uuid.UUID, upd domain.SubscriptionUpdate) (*domain.Subscription, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := categoryOwned(ctx, tx, userID, upd.CategoryID); err != nil {
		return nil, err
	}

	setClauses := []string{"updated_at = NOW()"}
	args := []any{subscriptionID, userID}
	set := func(column string, value any) {
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.ServiceName != nil {
		set("service_name", *upd.ServiceName)
	}
	if upd.DomainName != nil {
		set("domain_name", nullIfEmpty(*upd.DomainName))
	}
	if upd.Vendor != nil {
		set("vendor", nullIfEmpty(*upd.Vendor))
	}
	if upd.VendorLink != nil {
		set("vendor_link", nullIfEmpty(*upd.VendorLink))
	}
	if upd.Email != nil {
		set("email", nullIfEmpty(*upd.Email))
	}
	if upd.Username != nil {
		set("username", nullIfEmpty(*upd.Username))
	}
	if upd.Password != nil {
		set("password", nullIfEmpty(*upd.Password))
	}
	if upd.Notes != nil {
		set("notes", nullIfEmpty(*upd.Notes))
	}
	if upd.CategoryID != nil {
		set("category_id", *upd.CategoryID)
	}
	if upd.ClearCategory {
		setClauses = append(setClauses, "category_id = NULL")
	}

	query := fmt.Sprintf(`
        UPDATE subscriptions AS s
        SET %s
        WHERE s.id = $1 AND s.user_id = $2
        RETURNING %s`, strings.Join(setClauses, ", "), subscriptionColumns)

	sub, err := scanSubscription(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}

	reminders, err := loadReminders(ctx, tx, []uuid.UUID{sub.ID})
	if err != nil {
		return nil, err
	}
	sub.Reminders = reminders[sub.ID]

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return sub, nil
}

// DeleteSubscription removes a subscription. Reminders, email logs and
// notifications cascade; history rows are detached and kept.
func (r *PostgresRepository) DeleteSubscription(ctx context.Context, userID, subscriptionID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM subscriptions WHERE id = $1 AND user_id = $2", subscriptionID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// SetActiveFlag flips is_active and nothing else.
func (r *PostgresRepository) SetActiveFlag(ctx context.Context, userID, subscriptionID uuid.UUID, active bool) (*domain.Subscription, error) {
	query := `
        UPDATE subscriptions AS s
        SET is_active = $3, updated_at = NOW()
        WHERE s.id = $1 AND s.user_id = $2
        RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, subscriptionID, userID, active))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}

	reminders, err := loadReminders(ctx, r.db, []uuid.UUID{sub.ID})
	if err != nil {
		return nil, err
	}
	sub.Reminders = reminders[sub.ID]
	return sub, nil
}

// WriteRenewal snapshots the current period into subscription_history and
// overwrites it with the period in `in`, in one transaction. The row lock
// serializes concurrent renewals of the same subscription, so each call
// snapshots the period left by the one before it.
func (r *PostgresRepository) WriteRenewal(ctx context.Context, userID, subscriptionID uuid.UUID, in domain.RenewalInput) (*domain.Subscription, *domain.SubscriptionHistory, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT ` + subscriptionColumns + ` FROM subscriptions s WHERE s.id = $1 AND s.user_id = $2 FOR UPDATE`
	current, err := scanSubscription(tx.QueryRow(ctx, lockQuery, subscriptionID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrSubscriptionNotFound
		}
		return nil, nil, fmt.Errorf("lock subscription: %w", err)
	}

	snapshot := domain.SnapshotPeriod(*current)
	snapshot.ID = uuid.New()
	historyQuery := `
        INSERT INTO subscription_history (
            id, subscription_id, user_id, service_name, purchase_date, expiry_date,
            purchase_amount_pkr, purchase_amount_usd, vendor, vendor_link
        )
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING created_at
    `
	if err := tx.QueryRow(ctx, historyQuery,
		snapshot.ID,
		snapshot.SubscriptionID,
		snapshot.UserID,
		snapshot.ServiceName,
		snapshot.PurchaseDate.Time,
		snapshot.ExpiryDate.Time,
		snapshot.PurchaseAmountPKR,
		snapshot.PurchaseAmountUSD,
		snapshot.Vendor,
		snapshot.VendorLink,
	).Scan(&snapshot.CreatedAt); err != nil {
		return nil, nil, fmt.Errorf("insert history snapshot: %w", err)
	}

	next := domain.ApplyRenewal(*current, in)
	updateQuery := `
        UPDATE subscriptions AS s
        SET purchase_date = $3,
            expiry_date = $4,
            purchase_amount_pkr = $5,
            purchase_amount_usd = $6,
            vendor = $7,
            vendor_link = $8,
            updated_at = NOW()
        WHERE s.id = $1 AND s.user_id = $2
        RETURNING ` + subscriptionColumns
	renewed, err := scanSubscription(tx.QueryRow(ctx, updateQuery,
		subscriptionID,
		userID,
		next.PurchaseDate.Time,
		next.ExpiryDate.Time,
		next.PurchaseAmountPKR,
		next.PurchaseAmountUSD,
		next.Vendor,
		next.VendorLink,
	))
	if err != nil {
		return nil, nil, fmt.Errorf("roll subscription forward: %w", err)
	}

	reminders, err := loadReminders(ctx, tx, []uuid.UUID{renewed.ID})
	if err != nil {
		return nil, nil, err
	}
	renewed.Reminders = reminders[renewed.ID]

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit renewal: %w", err)
	}
	return renewed, &snapshot, nil
}

func nullIfEmpty(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
