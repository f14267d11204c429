package category

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/couponhub/internal/domain"
	"github.com/xenking/couponhub/internal/domain/ident"
)

var (
	// ErrNotFound is returned when a category name is unknown.
	ErrNotFound = errors.New("category not found")
	// ErrDuplicate is returned when a category with the same name exists.
	ErrDuplicate = errors.New("category already exists")
)

// Category is a named grouping of coupons, referenced by name.
type Category struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Repository persists categories.
type Repository interface {
	// Create inserts c. Returns ErrDuplicate on a name conflict.
	Create(ctx context.Context, c *Category) error
	List(ctx context.Context) ([]Category, error)
	Exists(ctx context.Context, name string) (bool, error)
}

// Service manages categories.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a category Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Add creates a category named name with a random CAT- id.
func (s *Service) Add(ctx context.Context, name string) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &domain.MissingFieldError{Field: "name"}
	}

	exists, err := s.repo.Exists(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "check category")
	}
	if exists {
		return nil, ErrDuplicate
	}

	c := &Category{
		ID:        ident.Token(ident.PrefixCategory),
		Name:      name,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrDuplicate
		}
		return nil, errors.Wrap(err, "create category")
	}
	return c, nil
}

// List returns all categories.
func (s *Service) List(ctx context.Context) ([]Category, error) {
	out, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	return out, nil
}

// Exists reports whether a category named name exists.
func (s *Service) Exists(ctx context.Context, name string) (bool, error) {
	return s.repo.Exists(ctx, name)
}
