package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/couponhub/internal/domain/category"
)

const (
	insertCategorySQL = `INSERT INTO categories (id, name, created_at) VALUES ($1, $2, $3)`
	listCategoriesSQL = `SELECT id, name, created_at FROM categories ORDER BY name`
	categoryExistsSQL = `SELECT EXISTS (SELECT 1 FROM categories WHERE name = $1)`
)

var _ category.Repository = (*CategoryRepository)(nil)

// CategoryRepository implements category.Repository backed by PostgreSQL.
type CategoryRepository struct {
	pool *pgxpool.Pool
}

// NewCategoryRepository returns a CategoryRepository that uses the given pool.
func NewCategoryRepository(pool *pgxpool.Pool) *CategoryRepository {
	return &CategoryRepository{pool: pool}
}

// Create inserts a category. Both a name clash and a token clash on the id
// surface as category.ErrDuplicate.
func (r *CategoryRepository) Create(ctx context.Context, c *category.Category) error {
	_, err := r.pool.Exec(ctx, insertCategorySQL, c.ID, c.Name, c.CreatedAt)
	if err != nil {
		if uniqueConstraint(err) != "" {
			return category.ErrDuplicate
		}
		return fmt.Errorf("creating category %q: %w", c.Name, err)
	}
	return nil
}

// List returns all categories ordered by name.
func (r *CategoryRepository) List(ctx context.Context) ([]category.Category, error) {
	rows, err := r.pool.Query(ctx, listCategoriesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (category.Category, error) {
		var c category.Category
		err := row.Scan(&c.ID, &c.Name, &c.CreatedAt)
		return c, err
	})
}

// Exists reports whether a category named name exists.
func (r *CategoryRepository) Exists(ctx context.Context, name string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, categoryExistsSQL, name).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking category %q: %w", name, err)
	}
	return ok, nil
}
