// Package shared contains error kinds used across the monitoring sidecar.
//
// # Error Classification
//
// Remote calls never abort a scheduled task, but the reason they failed still
// matters for logs and metrics. KindOf maps an error chain to a Kind:
//
//	switch shared.KindOf(err) {
//	case shared.KindUnauthorized:
//	    // wrong or revoked API key
//	case shared.KindRateLimited:
//	    // back off, the remote side asked for it
//	case shared.KindTimeout:
//	    // soft failure, logged and ignored
//	}
//
// Adapters classify third-party errors with MarkKind so that both
// KindOf(marked) and errors.Is(marked, original) keep working:
//
//	if resp.StatusCode == http.StatusTooManyRequests {
//	    return shared.MarkKind(fmt.Errorf("status %d", resp.StatusCode), shared.KindRateLimited)
//	}
//
// # Kind Priority
//
// When an error carries several kinds (errors.Join, double marking) KindOf
// returns the first match in this order:
//
//	Priority | Kind
//	---------|------------------
//	1        | KindCanceled
//	2        | KindTimeout
//	3        | KindValidation
//	4        | KindUnauthorized
//	5        | KindRateLimited
//	6        | KindDependencyFailure
//	7        | KindInternal
//
// # Message Style
//
// Messages are lowercase without trailing punctuation so they compose when
// wrapped: "sync monitor reports-generate: rate limited: status 429".
package shared
