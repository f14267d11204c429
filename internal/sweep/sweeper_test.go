package sweep

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/couponhub/internal/domain/user"
)

type storedCoupon struct {
	expireDate time.Time
	expired    bool
}

// memCoupons mimics the conditional batch update of the store.
type memCoupons struct {
	mu          sync.Mutex
	coupons     []*storedCoupon
	err         error
	gotDeadline bool
}

func (m *memCoupons) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, m.gotDeadline = ctx.Deadline()
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for _, c := range m.coupons {
		if c.expireDate.Before(now) && !c.expired {
			c.expired = true
			n++
		}
	}
	return n, nil
}

type stubReconciler struct {
	n      int64
	err    error
	calls  int
	before time.Time
	tier   user.TierFunc
}

func (s *stubReconciler) ReconcileUploadCounters(_ context.Context, before time.Time, tier user.TierFunc) (int64, error) {
	s.calls++
	s.before = before
	s.tier = tier
	return s.n, s.err
}

type stubLease struct {
	held     bool
	err      error
	released int
}

func (l *stubLease) Acquire(context.Context) (func(context.Context) error, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func(context.Context) error {
		l.held = false
		l.released++
		return nil
	}, true, nil
}

var sweepNow = time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)

func seeded() *memCoupons {
	return &memCoupons{coupons: []*storedCoupon{
		{expireDate: sweepNow.Add(-48 * time.Hour)},
		{expireDate: sweepNow.Add(-time.Second)},
		{expireDate: sweepNow.Add(-time.Hour), expired: true},
		{expireDate: sweepNow},
		{expireDate: sweepNow.Add(24 * time.Hour)},
	}}
}

func TestRun_Idempotent(t *testing.T) {
	store := seeded()
	s, err := New(store, zaptest.NewLogger(t), Options{})
	require.NoError(t, err)

	first, err := s.Run(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.Expired)

	second, err := s.Run(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.Zero(t, second.Expired)

	// expireDate == now is not yet overdue.
	assert.False(t, store.coupons[3].expired)
	assert.False(t, store.coupons[4].expired)
}

func TestRun_Reconciles(t *testing.T) {
	rec := &stubReconciler{n: 3}
	s, err := New(seeded(), zaptest.NewLogger(t), Options{Reconciler: rec})
	require.NoError(t, err)

	res, err := s.Run(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Reconciled)
	assert.Equal(t, 1, rec.calls)
	require.NotNil(t, rec.tier)
	assert.Equal(t, user.ComputeTier(100), rec.tier(100))
	assert.Equal(t, sweepNow.Add(-DefaultReconcileGrace), rec.before)
}

func TestRun_ReconcileCutoff(t *testing.T) {
	tests := []struct {
		name  string
		grace time.Duration
		want  time.Time
	}{
		{"default", 0, sweepNow.Add(-time.Minute)},
		{"negative uses default", -time.Second, sweepNow.Add(-time.Minute)},
		{"configured", 10 * time.Minute, sweepNow.Add(-10 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &stubReconciler{}
			s, err := New(seeded(), zaptest.NewLogger(t), Options{Reconciler: rec, ReconcileGrace: tt.grace})
			require.NoError(t, err)

			_, err = s.Run(context.Background(), sweepNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.before)
		})
	}
}

func TestRun_ExpireErrorSkipsReconcile(t *testing.T) {
	store := seeded()
	store.err = errors.New("db down")
	rec := &stubReconciler{}
	s, err := New(store, zaptest.NewLogger(t), Options{Reconciler: rec})
	require.NoError(t, err)

	_, err = s.Run(context.Background(), sweepNow)
	require.ErrorIs(t, err, store.err)
	assert.Zero(t, rec.calls)
}

func TestRun_Timeout(t *testing.T) {
	store := seeded()
	s, err := New(store, zaptest.NewLogger(t), Options{Timeout: time.Minute})
	require.NoError(t, err)

	_, err = s.Run(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.True(t, store.gotDeadline)
}

func TestRun_Lease(t *testing.T) {
	t.Run("acquired and released", func(t *testing.T) {
		lease := &stubLease{}
		s, err := New(seeded(), zaptest.NewLogger(t), Options{Lease: lease})
		require.NoError(t, err)

		res, err := s.Run(context.Background(), sweepNow)
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.Equal(t, int64(2), res.Expired)
		assert.Equal(t, 1, lease.released)
		assert.False(t, lease.held)
	})

	t.Run("held elsewhere", func(t *testing.T) {
		store := seeded()
		s, err := New(store, zaptest.NewLogger(t), Options{Lease: &stubLease{held: true}})
		require.NoError(t, err)

		res, err := s.Run(context.Background(), sweepNow)
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Zero(t, res.Expired)
		assert.False(t, store.coupons[0].expired)
	})

	t.Run("lease error", func(t *testing.T) {
		s, err := New(seeded(), zaptest.NewLogger(t), Options{Lease: &stubLease{err: errors.New("redis down")}})
		require.NoError(t, err)

		_, err = s.Run(context.Background(), sweepNow)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "acquire lease")
	})
}

func TestTick_RecordsOutcome(t *testing.T) {
	store := seeded()
	s, err := New(store, zaptest.NewLogger(t), Options{
		MeterProvider:  metricnoop.NewMeterProvider(),
		TracerProvider: tracenoop.NewTracerProvider(),
	})
	require.NoError(t, err)
	s.now = func() time.Time { return sweepNow }

	require.NoError(t, s.Check(context.Background()), "healthy before the first run")

	store.err = errors.New("db down")
	s.Tick(context.Background())
	require.Error(t, s.Check(context.Background()))
	_, lastErr := s.Last()
	require.ErrorIs(t, lastErr, store.err)

	store.err = nil
	s.Tick(context.Background())
	require.NoError(t, s.Check(context.Background()))
	last, _ := s.Last()
	assert.Equal(t, int64(2), last.Expired)
	assert.Equal(t, sweepNow, last.StartedAt)
}
