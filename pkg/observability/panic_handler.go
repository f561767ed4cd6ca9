package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers a panic in the calling goroutine and logs it with the stack.
// It must be deferred directly:
//
//	defer observability.RecoverPanic(logger, "expire-pending-orders")
//
// The panic is swallowed, so cron jobs and background goroutines keep the process alive.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// RecoverPanicWithCallback is RecoverPanic plus a callback that only runs when a panic happened
func RecoverPanicWithCallback(logger *Logger, where string, callback func(recovered interface{})) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
		if callback != nil {
			callback(r)
		}
	}
}

// RecoverToError converts a panic into an error assigned to *errp.
//
//	func (j *Job) Run(ctx context.Context) (err error) {
//	    defer observability.RecoverToError(&err)
//	    ...
//	}
func RecoverToError(errp *error) {
	if r := recover(); r != nil && errp != nil {
		*errp = fmt.Errorf("panic: %v", r)
	}
}

func logPanic(logger *Logger, where string, r interface{}) {
	if logger == nil {
		return
	}
	logger.WithFields(map[string]interface{}{
		"panic":   fmt.Sprint(r),
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
}
