package user

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/couponhub/internal/domain"
	"github.com/xenking/couponhub/internal/domain/ident"
)

// IDAllocator hands out prefixed record identifiers.
type IDAllocator interface {
	Next(ctx context.Context, prefix string) (string, error)
}

// RegisterRequest holds the input for registering a user.
type RegisterRequest struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	DOB       time.Time
}

// Service implements user registration, profile edits and tier reads.
type Service struct {
	users Repository
	ids   IDAllocator
	now   func() time.Time
}

// NewService creates a user Service.
func NewService(users Repository, ids IDAllocator) *Service {
	return &Service{users: users, ids: ids, now: time.Now}
}

// Register validates req, allocates a USER id and stores a level 1 user.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := domain.RequireFields(
		"firstName", req.FirstName,
		"lastName", req.LastName,
		"email", req.Email,
	); err != nil {
		return nil, err
	}
	if req.DOB.IsZero() {
		return nil, &domain.MissingFieldError{Field: "dob"}
	}

	// Cheap pre-check; the unique index still decides under concurrency.
	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "lookup email")
	}

	id, err := s.ids.Next(ctx, ident.PrefixUser)
	if err != nil {
		return nil, errors.Wrap(err, "allocate user id")
	}

	now := s.now()
	u := &User{
		ID:        id,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		DOB:       req.DOB,
		Tier:      ComputeTier(0),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, errors.Wrap(err, "create user")
	}
	return u, nil
}

// UpdateProfile applies the non-empty fields of p. Counters and tier fields
// are never touched here.
func (s *Service) UpdateProfile(ctx context.Context, id string, p ProfileUpdate) (*User, error) {
	if id == "" {
		return nil, &domain.MissingFieldError{Field: "userId"}
	}
	p.Email = strings.TrimSpace(p.Email)
	if p.Empty() {
		return s.Get(ctx, id)
	}

	u, err := s.users.UpdateProfile(ctx, id, p)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateEmail) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "update user %s", id)
	}
	return u, nil
}

// Get returns the user with the given id.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, err := s.users.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get user %s", id)
	}
	return u, nil
}

// FindByEmail returns the user registered with email.
func (s *Service) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, &domain.MissingFieldError{Field: "email"}
	}
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "find user by email")
	}
	return u, nil
}

// List returns every user.
func (s *Service) List(ctx context.Context) ([]User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return users, nil
}

// Delete removes a user record. Coupons owned by the user are kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrapf(err, "delete user %s", id)
	}
	return nil
}

// GetTier reads the cached tier of a user. It is not recomputed.
func (s *Service) GetTier(ctx context.Context, id string) (Tier, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return Tier{}, err
	}
	return u.Tier, nil
}
