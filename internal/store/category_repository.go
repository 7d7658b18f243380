package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/subtrack/subscription-service/internal/domain"
)

// CreateCategory inserts a category. Names are unique per user.
func (r *PostgresRepository) CreateCategory(ctx context.Context, userID uuid.UUID, name string, color *string) (*domain.Category, error) {
	query := `
        INSERT INTO categories (id, user_id, name, color)
        VALUES ($1, $2, $3, $4)
        RETURNING id, user_id, name, color, created_at
    `
	var category domain.Category
	err := r.db.QueryRow(ctx, query, uuid.New(), userID, name, color).Scan(
		&category.ID,
		&category.UserID,
		&category.Name,
		&category.Color,
		&category.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrCategoryExists
		}
		return nil, err
	}
	return &category, nil
}

// ListCategories returns the user's categories ordered by name.
func (r *PostgresRepository) ListCategories(ctx context.Context, userID uuid.UUID) ([]domain.Category, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, user_id, name, color, created_at
        FROM categories
        WHERE user_id = $1
        ORDER BY LOWER(name) ASC
    `, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0)
	for rows.Next() {
		var category domain.Category
		if err := rows.Scan(&category.ID, &category.UserID, &category.Name, &category.Color, &category.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}
