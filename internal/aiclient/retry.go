package aiclient

import (
	"context"
	"time"

	"github.com/nalyze/nalyze/internal/apperrors"
)

// retryOnce wraps a single extraction attempt with one retry on any
// failure other than ErrAIInvalidResponse (it does not tell transient
// failures from permanent ones), adapted from gomind's resilience.Retry —
// trimmed to a fixed single retry with a short fixed delay, since the
// spec's "no automatic retries" rule (§7) applies to the core's own
// query/plan operations, not to this one outbound network call, and a
// single short-delay retry is the minimum needed to ride out a dropped
// connection without turning a flaky provider into a multi-second
// stall for the user.
func retryOnce(ctx context.Context, delay time.Duration, fn func() error) error {
	err := fn()
	if err == nil || apperrors.Is(err, apperrors.ErrAIInvalidResponse) {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}

	return fn()
}

// retryingClient retries a failed Extract once before surfacing the
// error, whatever the failure (transport error, non-200 status, missing
// key). Parse failures (ErrAIInvalidResponse) are not retried — retrying
// a malformed response from the same prompt rarely helps and only adds
// latency.
type retryingClient struct {
	inner Client
	delay time.Duration
}

// WithRetry returns a Client that retries one failed call, except a
// parse failure.
func WithRetry(inner Client) Client {
	return &retryingClient{inner: inner, delay: 250 * time.Millisecond}
}

func (r *retryingClient) Configured() bool { return r.inner.Configured() }

func (r *retryingClient) Extract(ctx context.Context, message, redactedCatalogSummary string) (Extraction, error) {
	var result Extraction
	err := retryOnce(ctx, r.delay, func() error {
		var innerErr error
		result, innerErr = r.inner.Extract(ctx, message, redactedCatalogSummary)
		return innerErr
	})
	return result, err
}
