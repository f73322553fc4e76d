// Package retry runs an operation with exponential backoff and jitter.
//
// Basic usage:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    return sendPing(ctx)
//	})
//
// An operation stops retrying when it returns nil, when the error is not
// retryable (see Config.Retryable and DefaultRetryable), when it is wrapped
// with Permanent, or when MaxAttempts is reached:
//
//	if resp.StatusCode == http.StatusUnauthorized {
//	    return retry.Permanent(errUnauthorized)
//	}
//
// Errors implementing DelayHint override the computed backoff for the next
// attempt, which is how HTTP Retry-After is honoured:
//
//	type throttled struct{ wait time.Duration }
//	func (t throttled) RetryAfter() time.Duration { return t.wait }
//
// Exhausting all attempts returns a *RetriesExceededError that unwraps to the
// last error.
package retry
