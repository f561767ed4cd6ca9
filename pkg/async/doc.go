// Package async runs background goroutines that cannot take the process down.
//
// Go and SafeGo recover panics, log failures through the structured logger
// and hand back a channel that closes when the task has finished, so callers
// that care can wait and callers that don't can drop it.
//
//	done := async.Go(ctx, logger, "metrics server", func(ctx context.Context) error {
//		return srv.ListenAndServe()
//	})
//
// The API server's rate limiter cleanup loop and the worker's metrics
// listener run this way.
package async
