package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/couponhub/internal/domain"
	"github.com/xenking/couponhub/internal/domain/category"
	"github.com/xenking/couponhub/internal/domain/ident"
	"github.com/xenking/couponhub/internal/domain/user"
)

// Users is the slice of the user store the coupon lifecycle needs.
type Users interface {
	Get(ctx context.Context, id string) (*user.User, error)
	RecordUpload(ctx context.Context, id string, tier user.TierFunc) (*user.User, error)
}

// Categories resolves category names.
type Categories interface {
	Exists(ctx context.Context, name string) (bool, error)
}

// IDAllocator hands out prefixed record identifiers.
type IDAllocator interface {
	Next(ctx context.Context, prefix string) (string, error)
}

var maxPercentage = decimal.NewFromInt(100)

// Service implements coupon submission, moderation and edits.
type Service struct {
	coupons    Repository
	users      Users
	categories Categories
	ids        IDAllocator
	gate       *Gate
	now        func() time.Time
}

// NewService creates a coupon Service. Upload days are bucketed in loc
// (nil means the process-local zone).
func NewService(
	coupons Repository,
	users Users,
	categories Categories,
	ids IDAllocator,
	loc *time.Location,
) *Service {
	return &Service{
		coupons:    coupons,
		users:      users,
		categories: categories,
		ids:        ids,
		gate:       NewGate(coupons, loc),
		now:        time.Now,
	}
}

// Create submits a new coupon in the not_verified state.
//
// Preconditions run in order and none of them writes: required fields, owner
// exists, category exists, daily quota, code uniqueness. Once the coupon row
// is stored the owner's upload counter and tier are updated. A failure at
// that last step is logged and left for the nightly reconciliation; the
// coupon itself is already committed and is returned.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Coupon, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	owner, err := s.users.Get(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, user.ErrNotFound
		}
		return nil, errors.Wrap(err, "get owner")
	}

	ok, err := s.categories.Exists(ctx, req.CategoryName)
	if err != nil {
		return nil, errors.Wrap(err, "check category")
	}
	if !ok {
		return nil, category.ErrNotFound
	}

	now := s.now()
	if err := s.gate.Check(ctx, owner, now); err != nil {
		return nil, err
	}

	taken, err := s.coupons.CodeExists(ctx, req.Code)
	if err != nil {
		return nil, errors.Wrap(err, "check coupon code")
	}
	if taken {
		return nil, ErrDuplicateCode
	}

	id, err := s.ids.Next(ctx, ident.PrefixCoupon)
	if err != nil {
		return nil, errors.Wrap(err, "allocate coupon id")
	}

	c := &Coupon{
		ID:           id,
		UserID:       req.UserID,
		CategoryName: req.CategoryName,
		BrandName:    req.BrandName,
		Code:         req.Code,
		ExpireDate:   req.ExpireDate,
		Percentage:   req.Percentage,
		TermsImage:   req.TermsImage,
		Status:       StatusNotVerified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.coupons.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return nil, ErrDuplicateCode
		}
		return nil, errors.Wrap(err, "create coupon")
	}

	if _, err := s.users.RecordUpload(ctx, req.UserID, user.ComputeTier); err != nil {
		zctx.From(ctx).Error("Upload counter not updated, deferring to reconciliation",
			zap.String("coupon_id", c.ID),
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
	}

	return c, nil
}

func validateCreate(req CreateRequest) error {
	if err := domain.RequireFields(
		"userId", req.UserID,
		"categoryName", req.CategoryName,
		"brandName", strings.TrimSpace(req.BrandName),
		"couponCode", req.Code,
		"termsAndConditionImage", req.TermsImage,
	); err != nil {
		return err
	}
	if req.ExpireDate.IsZero() {
		return &domain.MissingFieldError{Field: "expireDate"}
	}
	return validatePercentage(req.Percentage)
}

func validatePercentage(p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(maxPercentage) {
		return ErrInvalidPercentage
	}
	return nil
}

// SetStatus records a moderation verdict. target must be approved or
// rejected; the current status is not consulted.
func (s *Service) SetStatus(ctx context.Context, id, target string) (*Coupon, error) {
	if id == "" {
		return nil, &domain.MissingFieldError{Field: "couponId"}
	}
	if target == "" {
		return nil, &domain.MissingFieldError{Field: "status"}
	}
	st, err := ParseModeration(target)
	if err != nil {
		return nil, err
	}

	c, err := s.coupons.SetStatus(ctx, id, st)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "set status of %s", id)
	}
	return c, nil
}

// Edit applies free-form field edits. Status is never changed.
func (s *Service) Edit(ctx context.Context, id string, e EditRequest) (*Coupon, error) {
	if e.Empty() {
		return s.Get(ctx, id)
	}
	// Same order as validateCreate, so the reported field is stable.
	var pairs []string
	for _, f := range []struct {
		name string
		v    *string
	}{
		{"categoryName", e.CategoryName},
		{"brandName", e.BrandName},
		{"termsAndConditionImage", e.TermsImage},
	} {
		if f.v != nil {
			pairs = append(pairs, f.name, strings.TrimSpace(*f.v))
		}
	}
	if err := domain.RequireFields(pairs...); err != nil {
		return nil, err
	}
	if e.ExpireDate != nil && e.ExpireDate.IsZero() {
		return nil, &domain.MissingFieldError{Field: "expireDate"}
	}
	if e.Percentage != nil {
		if err := validatePercentage(*e.Percentage); err != nil {
			return nil, err
		}
	}
	if e.CategoryName != nil {
		ok, err := s.categories.Exists(ctx, *e.CategoryName)
		if err != nil {
			return nil, errors.Wrap(err, "check category")
		}
		if !ok {
			return nil, category.ErrNotFound
		}
	}

	c, err := s.coupons.Update(ctx, id, e)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "update coupon %s", id)
	}
	return c, nil
}

// Get returns the coupon with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Coupon, error) {
	c, err := s.coupons.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get coupon %s", id)
	}
	return c, nil
}

// List returns all coupons.
func (s *Service) List(ctx context.Context) ([]Coupon, error) {
	out, err := s.coupons.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return out, nil
}

// ListByCategory returns the coupons filed under category, or
// ErrNoneInCategory when there are none.
func (s *Service) ListByCategory(ctx context.Context, name string) ([]Coupon, error) {
	if name == "" {
		return nil, &domain.MissingFieldError{Field: "categoryName"}
	}
	out, err := s.coupons.ListByCategory(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons by category")
	}
	if len(out) == 0 {
		return nil, ErrNoneInCategory
	}
	return out, nil
}

// ListByUser returns the coupons uploaded by userID.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Coupon, error) {
	out, err := s.coupons.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons by user")
	}
	return out, nil
}
