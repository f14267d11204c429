package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/couponhub/internal/domain/coupon"
)

const couponColumns = `id, user_id, category_name, brand_name, coupon_code, expire_date,
	percentage, terms_image, status, created_at, updated_at`

const (
	insertCouponSQL = `INSERT INTO coupons (id, user_id, category_name, brand_name, coupon_code,
		expire_date, percentage, terms_image, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getCouponSQL             = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`
	couponCodeExistsSQL      = `SELECT EXISTS (SELECT 1 FROM coupons WHERE coupon_code = $1)`
	countCreatedBetweenSQL   = `SELECT count(*) FROM coupons WHERE user_id = $1 AND created_at BETWEEN $2 AND $3`
	listCouponsSQL           = `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at, id`
	listCouponsByCategorySQL = `SELECT ` + couponColumns + ` FROM coupons WHERE category_name = $1 ORDER BY created_at, id`
	listCouponsByUserSQL     = `SELECT ` + couponColumns + ` FROM coupons WHERE user_id = $1 ORDER BY created_at, id`

	updateCouponSQL = `UPDATE coupons SET
		category_name = COALESCE($2, category_name),
		brand_name    = COALESCE($3, brand_name),
		expire_date   = COALESCE($4, expire_date),
		percentage    = COALESCE($5, percentage),
		terms_image   = COALESCE($6, terms_image),
		updated_at    = now()
		WHERE id = $1
		RETURNING ` + couponColumns

	setCouponStatusSQL = `UPDATE coupons SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + couponColumns

	// The status predicate keeps the sweep idempotent.
	expireCouponsSQL = `UPDATE coupons SET status = 'expired', updated_at = now()
		WHERE expire_date < $1 AND status <> 'expired'`
)

const couponsCodeKey = "coupons_code_key"

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// Create inserts a new coupon.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, insertCouponSQL,
		c.ID, c.UserID, c.CategoryName, c.BrandName, c.Code,
		c.ExpireDate, c.Percentage, c.TermsImage, string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if uniqueConstraint(err) == couponsCodeKey {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("creating coupon %q: %w", c.ID, err)
	}
	return nil
}

// Get returns the coupon with the given id.
func (r *CouponRepository) Get(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.queryOne(ctx, "getting coupon", getCouponSQL, id)
}

// CodeExists reports whether any coupon uses code, compared exactly.
func (r *CouponRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, couponCodeExistsSQL, code).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking coupon code: %w", err)
	}
	return ok, nil
}

// CountCreatedBetween counts coupons of userID created in [from, to].
func (r *CouponRepository) CountCreatedBetween(ctx context.Context, userID string, from, to time.Time) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countCreatedBetweenSQL, userID, from, to).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting uploads of %q: %w", userID, err)
	}
	return n, nil
}

// List returns all coupons.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	return r.query(ctx, "listing coupons", listCouponsSQL)
}

// ListByCategory returns the coupons filed under category.
func (r *CouponRepository) ListByCategory(ctx context.Context, category string) ([]coupon.Coupon, error) {
	return r.query(ctx, "listing coupons by category", listCouponsByCategorySQL, category)
}

// ListByUser returns the coupons uploaded by userID.
func (r *CouponRepository) ListByUser(ctx context.Context, userID string) ([]coupon.Coupon, error) {
	return r.query(ctx, "listing coupons by user", listCouponsByUserSQL, userID)
}

// Update applies the non-nil fields of e. Status is not part of an edit.
func (r *CouponRepository) Update(ctx context.Context, id string, e coupon.EditRequest) (*coupon.Coupon, error) {
	return r.queryOne(ctx, "updating coupon", updateCouponSQL,
		id, e.CategoryName, e.BrandName, e.ExpireDate, e.Percentage, e.TermsImage)
}

// SetStatus overwrites the status of a coupon.
func (r *CouponRepository) SetStatus(ctx context.Context, id string, s coupon.Status) (*coupon.Coupon, error) {
	return r.queryOne(ctx, "setting coupon status", setCouponStatusSQL, id, string(s))
}

// ExpireBefore moves overdue coupons to expired in a single statement.
func (r *CouponRepository) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, expireCouponsSQL, now)
	if err != nil {
		return 0, fmt.Errorf("expiring coupons: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *CouponRepository) query(ctx context.Context, op, sql string, args ...any) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (r *CouponRepository) queryOne(ctx context.Context, op, sql string, args ...any) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c      coupon.Coupon
		status string
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.CategoryName, &c.BrandName, &c.Code, &c.ExpireDate,
		&c.Percentage, &c.TermsImage, &status, &c.CreatedAt, &c.UpdatedAt,
	)
	c.Status = coupon.Status(status)
	return c, err
}
