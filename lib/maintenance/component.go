package maintenance

import (
	"context"
	"github.com/ValentinKolb/memjob/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"time"
)

var Logger = logger.GetLogger("maintenance")

// Component is a background loop of the storage.
type Component interface {
	// Run executes cycles separated by the component's interval until ctx is
	// done. It returns nil on cancellation.
	Run(ctx context.Context) error
	// Execute runs a single cycle. It returns an error matching
	// store.ErrCancelled if ctx is done before the cycle completes.
	Execute(ctx context.Context) error
	// String returns the name of the component.
	String() string
}

// loop calls execute every interval until ctx is done.
func loop(ctx context.Context, name string, interval time.Duration, execute func(context.Context) error) error {
	for {
		if err := execute(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			Logger.Errorf("%s: cycle failed: %v", name, err)
		}
		if !sleep(ctx, interval) {
			return nil
		}
	}
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed. A non-positive d only checks ctx.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// cancelled wraps the context error of ctx.
func cancelled(ctx context.Context, op string) error {
	return store.WrapError(store.RetCCancelled, op, ctx.Err())
}
