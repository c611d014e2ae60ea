package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/meridianhq/tenancy/pkg/observability"
)

// SafeGo executes fn in a goroutine with context cancellation, a timeout,
// panic recovery, and error logging. Use this instead of a bare `go func()`
// for best-effort work like invitation delivery.
//
// The task name appears in log output, so keep it short and descriptive:
//
//	async.SafeGo(ctx, logger, 10*time.Second, "invitation delivery", func(ctx context.Context) error {
//	    return sender.SendInvitation(ctx, inv, org)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	go func() {
		ctx, cancel := context.WithTimeout(withoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithField("task", taskName).
					WithField("panic", r).
					WithField("stack", string(debug.Stack())).
					Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithField("task", taskName).WithError(err).Warn("background task failed")
		}
	}()
}

// SafeGoNoError is like SafeGo for functions that don't return errors.
func SafeGoNoError(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, logger, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// withoutCancel detaches the task from the parent's cancellation while
// keeping its values. Delivery triggered by a web request should survive the
// request ending.
func withoutCancel(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
