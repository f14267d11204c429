// Package sweep implements the nightly maintenance job: expiring coupons
// whose expiry date has passed and reconciling stale upload counters.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/couponhub/internal/domain/user"
)

const instrumentationName = "github.com/xenking/couponhub/internal/sweep"

// Expirer moves overdue coupons to the expired status.
type Expirer interface {
	ExpireBefore(ctx context.Context, now time.Time) (int64, error)
}

// Reconciler raises upload counters that fell behind the coupons stored
// before a cutoff.
type Reconciler interface {
	ReconcileUploadCounters(ctx context.Context, before time.Time, tier user.TierFunc) (int64, error)
}

// DefaultReconcileGrace is how old a coupon must be before reconciliation
// counts it. Younger coupons may still be waiting for their counter update.
const DefaultReconcileGrace = time.Minute

// Lease guards a run against other replicas.
type Lease interface {
	Acquire(ctx context.Context) (release func(context.Context) error, acquired bool, err error)
}

// Options configures a Sweeper.
type Options struct {
	// Timeout bounds a single run. Zero means no limit.
	Timeout time.Duration
	// Lease is optional; when set, a run that cannot take it is skipped.
	Lease Lease
	// Reconciler is optional.
	Reconciler Reconciler
	// ReconcileGrace defaults to DefaultReconcileGrace.
	ReconcileGrace time.Duration
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Result describes one run.
type Result struct {
	StartedAt  time.Time
	Duration   time.Duration
	Expired    int64
	Reconciled int64
	// Skipped is set when another replica held the lease.
	Skipped bool
}

// Sweeper runs the maintenance job and remembers the outcome of its last run.
type Sweeper struct {
	coupons    Expirer
	reconciler Reconciler
	grace      time.Duration
	lease      Lease
	timeout    time.Duration
	lg         *zap.Logger
	now        func() time.Time

	tracer  trace.Tracer
	runs    metric.Int64Counter
	expired metric.Int64Counter

	mu      sync.Mutex
	last    Result
	lastErr error
}

// New creates a Sweeper.
func New(coupons Expirer, lg *zap.Logger, opts Options) (*Sweeper, error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	if opts.ReconcileGrace <= 0 {
		opts.ReconcileGrace = DefaultReconcileGrace
	}
	s := &Sweeper{
		coupons:    coupons,
		reconciler: opts.Reconciler,
		grace:      opts.ReconcileGrace,
		lease:      opts.Lease,
		timeout:    opts.Timeout,
		lg:         lg,
		now:        time.Now,
	}
	if opts.TracerProvider != nil {
		s.tracer = opts.TracerProvider.Tracer(instrumentationName)
	}
	if opts.MeterProvider != nil {
		meter := opts.MeterProvider.Meter(instrumentationName)
		var err error
		if s.runs, err = meter.Int64Counter("couponhub.sweep.runs",
			metric.WithDescription("Expiry sweep runs by outcome"),
		); err != nil {
			return nil, errors.Wrap(err, "runs counter")
		}
		if s.expired, err = meter.Int64Counter("couponhub.sweep.expired",
			metric.WithDescription("Coupons moved to expired"),
		); err != nil {
			return nil, errors.Wrap(err, "expired counter")
		}
	}
	return s, nil
}

// Run expires every coupon with expireDate < now that is not expired yet,
// then reconciles upload counters against coupons created before
// now minus the reconcile grace. Rows updated before a failure stay
// updated; the next run completes the rest.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (res Result, err error) {
	res.StartedAt = now
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "sweep.Run")
		defer func() {
			span.SetAttributes(
				attribute.Int64("sweep.expired", res.Expired),
				attribute.Int64("sweep.reconciled", res.Reconciled),
				attribute.Bool("sweep.skipped", res.Skipped),
			)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	if s.lease != nil {
		release, ok, err := s.lease.Acquire(ctx)
		if err != nil {
			return res, errors.Wrap(err, "acquire lease")
		}
		if !ok {
			res.Skipped = true
			return res, nil
		}
		defer func() {
			// The run context may already be expired.
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := release(relCtx); err != nil {
				s.lg.Warn("Release sweep lease", zap.Error(err))
			}
		}()
	}

	n, err := s.coupons.ExpireBefore(ctx, now)
	res.Expired = n
	if err != nil {
		return res, errors.Wrap(err, "expire coupons")
	}

	if s.reconciler != nil {
		n, err := s.reconciler.ReconcileUploadCounters(ctx, now.Add(-s.grace), user.ComputeTier)
		res.Reconciled = n
		if err != nil {
			return res, errors.Wrap(err, "reconcile upload counters")
		}
	}
	return res, nil
}

// Tick performs one scheduled run at the current time. Errors are logged and
// recorded for the health check, never returned.
func (s *Sweeper) Tick(ctx context.Context) {
	start := s.now()
	res, err := s.Run(ctx, start)
	res.Duration = s.now().Sub(start)

	s.record(ctx, res, err)

	switch {
	case err != nil:
		s.lg.Error("Expiry sweep failed",
			zap.Int64("expired", res.Expired),
			zap.Duration("duration", res.Duration),
			zap.Error(err),
		)
	case res.Skipped:
		s.lg.Info("Expiry sweep skipped, lease held elsewhere")
	default:
		s.lg.Info("Expiry sweep done",
			zap.Int64("expired", res.Expired),
			zap.Int64("reconciled", res.Reconciled),
			zap.Duration("duration", res.Duration),
		)
	}
}

func (s *Sweeper) record(ctx context.Context, res Result, err error) {
	s.mu.Lock()
	s.last = res
	s.lastErr = err
	s.mu.Unlock()

	if s.runs == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case res.Skipped:
		outcome = "skipped"
	}
	// Measurements must outlive a cancelled run context.
	ctx = context.WithoutCancel(ctx)
	s.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if res.Expired > 0 {
		s.expired.Add(ctx, res.Expired)
	}
}

// Last returns the outcome of the most recent scheduled run.
func (s *Sweeper) Last() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastErr
}

// Check reports the last run's error. It fits health.CheckFunc.
func (s *Sweeper) Check(context.Context) error {
	_, err := s.Last()
	if err != nil {
		return errors.Wrap(err, "last sweep")
	}
	return nil
}
