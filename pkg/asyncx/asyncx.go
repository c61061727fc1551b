package asyncx

import (
	"context"
	"time"
)

// Do fires fn in a goroutine and forgets it (fire-and-forget).
func Do(fn func()) {
	go fn()
}

// DoCtx fires fn in a goroutine only if ctx is not already done.
func DoCtx(ctx context.Context, fn func(context.Context)) {
	go func() {
		select {
		case <-ctx.Done():
			return
		default:
			fn(ctx)
		}
	}()
}

// DoTimeout fires fn in a goroutine with a fresh context bounded by d.
// Used for best-effort side writes that must outlive the parent request
// but never block it.
func DoTimeout(d time.Duration, fn func(context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d)
		defer cancel()
		fn(ctx)
	}()
}
