package sweep

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs the sweep daily at midnight.
const DefaultSchedule = "0 0 * * *"

// Job is a unit of scheduled work.
type Job interface {
	Tick(ctx context.Context)
}

// Scheduler owns the cron instance driving a Job. It is created and started
// explicitly by the process and stopped on shutdown.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	stop context.CancelFunc
}

// NewScheduler registers job on the standard five-field cron spec. Runs are
// evaluated in loc (nil means the process-local zone) and a tick is dropped
// when the previous one is still running.
func NewScheduler(spec string, loc *time.Location, job Job, lg *zap.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if loc == nil {
		loc = time.Local
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	logger := cronLogger{lg: lg.Named("cron")}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		),
	)
	if _, err := c.AddFunc(spec, func() { job.Tick(ctx) }); err != nil {
		cancel()
		return nil, errors.Wrapf(err, "parse schedule %q", spec)
	}
	return &Scheduler{cron: c, ctx: ctx, stop: cancel}, nil
}

// Start begins scheduling in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Next returns the next planned activation.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop prevents further ticks, cancels a running one and waits for it to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for running sweep")
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	lg *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.lg.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.lg.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
