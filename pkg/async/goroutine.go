package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sakconstructions/storefront/pkg/observability"
)

// Go runs fn in a goroutine until it returns or ctx is cancelled. A panic is
// recovered and logged with its stack instead of crashing the process. The
// returned channel closes when fn has returned.
func Go(ctx context.Context, logger *observability.Logger, taskName string, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := run(ctx, taskName, fn); err != nil {
			logger.WithField("task", taskName).WithError(err).Error("Background task failed")
		}
	}()
	return done
}

// SafeGo is Go with a deadline on the task
//
//	async.SafeGo(ctx, logger, 5*time.Second, "cache warm", func(ctx context.Context) error {
//		return catalog.WarmFeatured(ctx, 12)
//	})
func SafeGo(parent context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	return Go(parent, logger, taskName, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(ctx)
	})
}

// run calls fn and turns a panic into an error
func run(ctx context.Context, taskName string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v\n%s", taskName, r, debug.Stack())
		}
	}()
	return fn(ctx)
}
