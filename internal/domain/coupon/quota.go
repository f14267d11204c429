package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/couponhub/internal/domain/user"
)

// UploadCounter counts a user's coupons created inside a time window.
type UploadCounter interface {
	CountCreatedBetween(ctx context.Context, userID string, from, to time.Time) (int, error)
}

// DayWindow returns the inclusive bounds of the calendar day containing now,
// as observed in loc.
func DayWindow(now time.Time, loc *time.Location) (start, end time.Time) {
	local := now.In(loc)
	y, m, d := local.Date()
	start = time.Date(y, m, d, 0, 0, 0, 0, loc)
	end = time.Date(y, m, d+1, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
	return start, end
}

// Gate enforces the per-day upload limit of a user's tier.
type Gate struct {
	counter UploadCounter
	loc     *time.Location
}

// NewGate creates a Gate that buckets days in loc. A nil loc means the
// process-local zone.
func NewGate(counter UploadCounter, loc *time.Location) *Gate {
	if loc == nil {
		loc = time.Local
	}
	return &Gate{counter: counter, loc: loc}
}

// Check returns ErrDailyLimitReached when u may not upload another coupon
// on the day containing now. The limit comes from u's cached tier.
func (g *Gate) Check(ctx context.Context, u *user.User, now time.Time) error {
	limit := u.Tier.DailyUploadLimit
	if limit.Unbounded() {
		return nil
	}

	start, end := g.Window(now)
	count, err := g.counter.CountCreatedBetween(ctx, u.ID, start, end)
	if err != nil {
		return errors.Wrap(err, "count uploads today")
	}
	if !limit.Allows(count) {
		return ErrDailyLimitReached
	}
	return nil
}

// Window returns the day window for now in the gate's location.
func (g *Gate) Window(now time.Time) (start, end time.Time) {
	return DayWindow(now, g.loc)
}
