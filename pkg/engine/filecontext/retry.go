package filecontext

import (
	"context"
	"time"
)

// callTimeout and backoff schedule for the File Context Provider's fetch
// calls, per §5: "individually bounded by a per-call timeout (default 5s)
// with up to 2 retries on transient errors (exponential backoff, initial
// 200ms)". Same shape as reconstore's withRetry; duplicated rather than
// shared since the two packages have no common dependency edge and the
// helper is a few lines.
const (
	callTimeout    = 5 * time.Second
	maxCallRetries = 2
	initialBackoff = 200 * time.Millisecond
)

// withRetry bounds fn by callTimeout and retries it up to maxCallRetries
// times with exponential backoff on any error.
func withRetry(ctx context.Context, fn func(ctx context.Context) (FileContext, error)) (FileContext, error) {
	backoff := initialBackoff
	var fc FileContext
	var err error
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		fc, err = fn(callCtx)
		cancel()

		if err == nil || attempt >= maxCallRetries {
			return fc, err
		}

		select {
		case <-ctx.Done():
			return FileContext{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
