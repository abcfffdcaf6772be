package reconstore

import (
	"context"
	"errors"
	"time"
)

// callTimeout and backoff schedule for the remote-KV backend's network
// calls, per §5: "individually bounded by a per-call timeout (default 5s)
// with up to 2 retries on transient errors (exponential backoff, initial
// 200ms)". Grounded on the retry-with-sleep shape of the retrieval pack's
// lease.Lease (GoogleCloudPlatform-prometheus-engine/pkg/lease/lease.go),
// generalized from a fixed retry period to the exponential schedule §5
// pins explicitly.
const (
	callTimeout    = 5 * time.Second
	maxCallRetries = 2
	initialBackoff = 200 * time.Millisecond
)

// withRetry bounds fn by callTimeout and retries it up to maxCallRetries
// times with exponential backoff on any error, except ErrCASConflict: a CAS
// conflict is a logical outcome signaling another writer won the race, not a
// transient network failure, so it is returned immediately for the Store's
// own CAS retry loop to handle.
func withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := initialBackoff
	var err error
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		err = fn(callCtx)
		cancel()

		if err == nil || errors.Is(err, ErrCASConflict) {
			return err
		}
		if attempt >= maxCallRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
