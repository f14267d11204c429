package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/couponhub/internal/domain/user"
)

const userColumns = `id, first_name, last_name, email, phone, dob, total_coupons_uploaded,
	user_level, prepayment_percentage, daily_upload_limit, created_at, updated_at`

const (
	insertUserSQL = `INSERT INTO users (id, first_name, last_name, email, phone, dob,
		total_coupons_uploaded, user_level, prepayment_percentage, daily_upload_limit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	getUserSQL         = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	findUserByEmailSQL = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	listUsersSQL       = `SELECT ` + userColumns + ` FROM users ORDER BY created_at, id`
	deleteUserSQL      = `DELETE FROM users WHERE id = $1`

	updateProfileSQL = `UPDATE users SET
		first_name = COALESCE(NULLIF($2, ''), first_name),
		last_name  = COALESCE(NULLIF($3, ''), last_name),
		email      = COALESCE(NULLIF($4, ''), email),
		phone      = COALESCE(NULLIF($5, ''), phone),
		dob        = COALESCE($6::date, dob),
		updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	// The row lock taken here serializes concurrent uploads of one user.
	incrementUploadsSQL = `UPDATE users
		SET total_coupons_uploaded = total_coupons_uploaded + 1, updated_at = now()
		WHERE id = $1
		RETURNING total_coupons_uploaded`

	setTierSQL = `UPDATE users
		SET user_level = $2, prepayment_percentage = $3, daily_upload_limit = $4
		WHERE id = $1
		RETURNING ` + userColumns

	reconcileCountersSQL = `WITH actual AS (
			SELECT user_id, count(*)::int AS n FROM coupons WHERE created_at < $1 GROUP BY user_id
		)
		UPDATE users u
		SET total_coupons_uploaded = a.n, updated_at = now()
		FROM actual a
		WHERE a.user_id = u.id AND u.total_coupons_uploaded < a.n
		RETURNING u.id, u.total_coupons_uploaded`

	setTierOnlySQL = `UPDATE users
		SET user_level = $2, prepayment_percentage = $3, daily_upload_limit = $4
		WHERE id = $1`
)

const usersEmailKey = "users_email_key"

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	_, err := r.pool.Exec(ctx, insertUserSQL,
		u.ID, u.FirstName, u.LastName, u.Email, u.Phone, u.DOB,
		u.TotalCouponsUploaded, u.Tier.Level, u.Tier.PrepaymentPercentage, int(u.Tier.DailyUploadLimit),
		u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if uniqueConstraint(err) == usersEmailKey {
			return user.ErrDuplicateEmail
		}
		return fmt.Errorf("creating user %q: %w", u.ID, err)
	}
	return nil
}

// Get returns the user with the given id.
func (r *UserRepository) Get(ctx context.Context, id string) (*user.User, error) {
	return r.queryOne(ctx, "getting user", getUserSQL, id)
}

// FindByEmail returns the user registered with email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.queryOne(ctx, "finding user by email", findUserByEmailSQL, email)
}

// List returns all users in registration order.
func (r *UserRepository) List(ctx context.Context) ([]user.User, error) {
	rows, err := r.pool.Query(ctx, listUsersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return pgx.CollectRows(rows, scanUser)
}

// UpdateProfile applies the non-empty fields of p. Counters and tier fields
// are never touched here.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, p user.ProfileUpdate) (*user.User, error) {
	var dob any
	if !p.DOB.IsZero() {
		dob = p.DOB
	}
	u, err := r.queryOne(ctx, "updating user profile", updateProfileSQL,
		id, p.FirstName, p.LastName, p.Email, p.Phone, dob)
	if err != nil && uniqueConstraint(err) == usersEmailKey {
		return nil, user.ErrDuplicateEmail
	}
	return u, err
}

// Delete removes a user. Their coupons are kept.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteUserSQL, id)
	if err != nil {
		return fmt.Errorf("deleting user %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

// RecordUpload bumps the upload counter and stores the derived tier in one
// transaction.
func (r *UserRepository) RecordUpload(ctx context.Context, id string, tier user.TierFunc) (*user.User, error) {
	var out *user.User
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var total int
		if err := tx.QueryRow(ctx, incrementUploadsSQL, id).Scan(&total); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return user.ErrNotFound
			}
			return fmt.Errorf("incrementing uploads of %q: %w", id, err)
		}

		t := tier(total)
		rows, err := tx.Query(ctx, setTierSQL, id, t.Level, t.PrepaymentPercentage, int(t.DailyUploadLimit))
		if err != nil {
			return fmt.Errorf("storing tier of %q: %w", id, err)
		}
		u, err := pgx.CollectExactlyOneRow(rows, scanUser)
		if err != nil {
			return fmt.Errorf("storing tier of %q: %w", id, err)
		}
		out = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReconcileUploadCounters raises every counter that is below the number of
// the user's coupons created before the cutoff and recomputes the tier of
// those users. Counters are never lowered. Coupons created at or after the
// cutoff may still have their RecordUpload pending and are not counted.
// Returns the number of users corrected.
func (r *UserRepository) ReconcileUploadCounters(ctx context.Context, before time.Time, tier user.TierFunc) (int64, error) {
	var fixed int64
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, reconcileCountersSQL, before)
		if err != nil {
			return fmt.Errorf("reconciling counters: %w", err)
		}
		type stale struct {
			id    string
			total int
		}
		users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (stale, error) {
			var s stale
			err := row.Scan(&s.id, &s.total)
			return s, err
		})
		if err != nil {
			return fmt.Errorf("reconciling counters: %w", err)
		}
		if len(users) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, s := range users {
			t := tier(s.total)
			batch.Queue(setTierOnlySQL, s.id, t.Level, t.PrepaymentPercentage, int(t.DailyUploadLimit))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("recomputing tiers: %w", err)
		}
		fixed = int64(len(users))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return fixed, nil
}

func (r *UserRepository) queryOne(ctx context.Context, op, sql string, args ...any) (*user.User, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &u, nil
}

func scanUser(row pgx.CollectableRow) (user.User, error) {
	var (
		u     user.User
		limit int
	)
	err := row.Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.DOB,
		&u.TotalCouponsUploaded, &u.Tier.Level, &u.Tier.PrepaymentPercentage, &limit,
		&u.CreatedAt, &u.UpdatedAt,
	)
	u.Tier.DailyUploadLimit = user.DailyLimit(limit)
	return u, err
}
