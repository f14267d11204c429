package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a coupon id is unknown.
	ErrNotFound = errors.New("coupon not found")
	// ErrNoneInCategory is returned when a category holds no coupons.
	ErrNoneInCategory = errors.New("no coupons found for this category")
	// ErrDuplicateCode is returned when the coupon code is already in use.
	// Codes are compared exactly, without case folding.
	ErrDuplicateCode = errors.New("coupon code already exists")
	// ErrDailyLimitReached is returned when the owner already uploaded their
	// tier's daily allowance today.
	ErrDailyLimitReached = errors.New("daily limit reached")
	// ErrInvalidStatus is returned for a moderation target other than
	// approved or rejected.
	ErrInvalidStatus = errors.New("invalid status: must be one of approved, rejected")
	// ErrInvalidPercentage is returned for a discount outside [0, 100].
	ErrInvalidPercentage = errors.New("percentage must be between 0 and 100")
)

// Coupon is a user-submitted discount code with its evidence image.
type Coupon struct {
	ID           string
	UserID       string
	CategoryName string
	BrandName    string
	Code         string
	ExpireDate   time.Time
	Percentage   decimal.Decimal
	// TermsImage is an opaque path or URL in the object store.
	TermsImage string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateRequest holds the input for submitting a coupon.
type CreateRequest struct {
	UserID       string
	CategoryName string
	BrandName    string
	Code         string
	ExpireDate   time.Time
	Percentage   decimal.Decimal
	TermsImage   string
}

// EditRequest carries free-form field edits. Nil fields are left as is.
// Status is deliberately absent: edits never move a coupon between states.
type EditRequest struct {
	CategoryName *string
	BrandName    *string
	ExpireDate   *time.Time
	Percentage   *decimal.Decimal
	TermsImage   *string
}

// Empty reports whether the edit changes nothing.
func (e EditRequest) Empty() bool {
	return e.CategoryName == nil && e.BrandName == nil && e.ExpireDate == nil &&
		e.Percentage == nil && e.TermsImage == nil
}

// Repository persists coupons.
type Repository interface {
	// Create inserts c. Returns ErrDuplicateCode on a code conflict.
	Create(ctx context.Context, c *Coupon) error
	Get(ctx context.Context, id string) (*Coupon, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	// CountCreatedBetween counts coupons of userID with from <= createdAt <= to.
	CountCreatedBetween(ctx context.Context, userID string, from, to time.Time) (int, error)
	List(ctx context.Context) ([]Coupon, error)
	ListByCategory(ctx context.Context, category string) ([]Coupon, error)
	ListByUser(ctx context.Context, userID string) ([]Coupon, error)
	Update(ctx context.Context, id string, e EditRequest) (*Coupon, error)
	SetStatus(ctx context.Context, id string, s Status) (*Coupon, error)
	// ExpireBefore moves every coupon with expireDate < now and a status
	// other than expired to expired, returning the number of rows changed.
	ExpireBefore(ctx context.Context, now time.Time) (int64, error)
}
