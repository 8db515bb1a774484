package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines run, which
// usually means leaked provider or backend calls.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		count := runtime.NumGoroutine()
		if count > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", count, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when any recorded stop-the-world pause exceeds
// threshold.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(_ context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)

		if longest := slices.Max(append(stats.Pause, 0)); longest > threshold {
			return errors.Errorf("GC pause %s exceeds threshold %s", longest, threshold)
		}
		return nil
	}
}

// NonEmptyCheck returns a CheckFunc that fails when load fails or reports
// zero entries. It is used as the catalog readiness check.
func NonEmptyCheck(what string, load func(ctx context.Context) (int, error)) CheckFunc {
	return func(ctx context.Context) error {
		n, err := load(ctx)
		if err != nil {
			return errors.Wrapf(err, "load %s", what)
		}
		if n == 0 {
			return errors.Errorf("%s is empty", what)
		}
		return nil
	}
}
