package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is implemented by pgxpool.Pool and the Redis lease.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}

// GoroutineCountCheck fails when more than threshold goroutines run, which
// usually means a leak.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when a recent stop-the-world pause exceeded threshold.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		for _, pause := range stats.Pause {
			if pause > threshold {
				return errors.Errorf("GC pause %s exceeds threshold %s", pause, threshold)
			}
		}
		return nil
	}
}
