/**
 * @description
 * Data access layer for the subscription tracker.
 * PostgresRepository holds every SQL statement the service runs; queries are
 * scoped by owner so that a foreign id behaves exactly like a missing one.
 */
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrReminderNotFound     = errors.New("reminder not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrCategoryNotFound     = errors.New("category not found")
	ErrCategoryExists       = errors.New("category with this name already exists")
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// database is the subset of *pgxpool.Pool the repository uses.
type database interface {
	querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PostgresRepository is the pgx-backed implementation of the service and
// dispatch repositories.
type PostgresRepository struct {
	db database
}

// NewPostgresRepository creates a new repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// EnsureUser resolves the internal id for a Clerk user id, inserting the user
// on first sight. A non-empty email refreshes the stored address.
func (r *PostgresRepository) EnsureUser(ctx context.Context, clerkUserID, email string) (uuid.UUID, error) {
	query := `
        INSERT INTO users (id, clerk_user_id, email)
        VALUES ($1, $2, NULLIF($3, ''))
        ON CONFLICT (clerk_user_id) DO UPDATE SET
            email = COALESCE(EXCLUDED.email, users.email),
            updated_at = NOW()
        RETURNING id
    `
	var id uuid.UUID
	if err := r.db.QueryRow(ctx, query, uuid.New(), clerkUserID, strings.TrimSpace(email)).Scan(&id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// FindUserIDByClerkUserID resolves the internal UUID from a Clerk user id string.
func (r *PostgresRepository) FindUserIDByClerkUserID(ctx context.Context, clerkUserID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, "SELECT id FROM users WHERE clerk_user_id = $1", clerkUserID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrUserNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}
