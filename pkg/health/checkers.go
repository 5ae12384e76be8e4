package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is implemented by connection pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails while p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// GoroutineCountCheck fails when more than limit goroutines are running,
// which usually means handlers are leaking.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines, limit %d", n, limit)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when one of the recent stop-the-world pauses took
// longer than limit.
func GCMaxPauseCheck(limit time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		if len(stats.Pause) == 0 {
			return nil
		}
		if longest := slices.Max(stats.Pause); longest > limit {
			return errors.Errorf("gc pause %s, limit %s", longest, limit)
		}
		return nil
	}
}
