package user

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when a referenced user does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned when another user already owns the email.
	ErrDuplicateEmail = errors.New("email already registered")
)

// User is a registered coupon uploader.
type User struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	DOB       time.Time

	// TotalCouponsUploaded only ever grows, by one per accepted coupon.
	TotalCouponsUploaded int
	// Tier is derived from TotalCouponsUploaded and never set on its own.
	Tier Tier

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProfileUpdate carries optional profile edits. Empty fields are left as is.
type ProfileUpdate struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	DOB       time.Time
}

// Empty reports whether the update changes nothing.
func (p ProfileUpdate) Empty() bool {
	return p.FirstName == "" && p.LastName == "" && p.Email == "" && p.Phone == "" && p.DOB.IsZero()
}

// TierFunc derives a tier from a lifetime upload count.
type TierFunc func(totalUploaded int) Tier

// Repository persists users.
type Repository interface {
	// Create inserts u. Returns ErrDuplicateEmail on an email conflict.
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]User, error)
	UpdateProfile(ctx context.Context, id string, p ProfileUpdate) (*User, error)
	Delete(ctx context.Context, id string) error

	// RecordUpload increments the upload counter by one and stores the tier
	// computed from the new total, as a single atomic step per user.
	RecordUpload(ctx context.Context, id string, tier TierFunc) (*User, error)
}
