package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common errors shared by the core and its adapters.
var (
	// ErrValidation indicates malformed input or configuration
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates the remote service rejected the credentials
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the remote service throttled the request
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrDependencyFailure indicates that the remote service failed
	ErrDependencyFailure = errors.New("dependency failure")

	// ErrInternal indicates a fault inside this process
	ErrInternal = errors.New("internal error")
)

// Kind represents a category of error for logging and metrics.
type Kind int

const (
	// KindUnknown represents an unclassified error
	KindUnknown Kind = iota
	// KindValidation represents malformed input
	KindValidation
	// KindUnauthorized represents rejected credentials
	KindUnauthorized
	// KindRateLimited represents throttled requests
	KindRateLimited
	// KindTimeout represents timeouts and deadlines
	KindTimeout
	// KindDependencyFailure represents remote service failures
	KindDependencyFailure
	// KindInternal represents faults inside this process
	KindInternal
	// KindCanceled represents context cancellation
	KindCanceled
)

// String returns the lowercase name of the Kind, suitable for log attributes
// and metric labels.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindDependencyFailure:
		return "dependency_failure"
	case KindInternal:
		return "internal"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

var kindToSentinel = map[Kind]error{
	KindValidation:        ErrValidation,
	KindUnauthorized:      ErrUnauthorized,
	KindRateLimited:       ErrRateLimited,
	KindTimeout:           ErrTimeout,
	KindDependencyFailure: ErrDependencyFailure,
	KindInternal:          ErrInternal,
}

var kindPriorities = []Kind{
	KindCanceled,
	KindTimeout,
	KindValidation,
	KindUnauthorized,
	KindRateLimited,
	KindDependencyFailure,
	KindInternal,
}

// KindOf classifies err. Cancellation and timeouts are detected from the
// standard library errors as well as from the sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, kind := range kindPriorities {
		switch kind {
		case KindCanceled:
			if IsCanceled(err) {
				return kind
			}
		case KindTimeout:
			if IsTimeout(err) {
				return kind
			}
		default:
			if errors.Is(err, kindToSentinel[kind]) {
				return kind
			}
		}
	}
	return KindUnknown
}

// ErrorOf returns the sentinel error for the given Kind.
// For KindUnknown and KindCanceled, it returns nil.
func ErrorOf(kind Kind) error {
	return kindToSentinel[kind]
}

// MarkKind wraps err with the sentinel of kind, preserving the original error.
// If err is nil, returns the sentinel. Marking with a kind the error already
// has returns it unchanged.
func MarkKind(err error, kind Kind) error {
	sentinel := ErrorOf(kind)
	if err == nil {
		return sentinel
	}
	if sentinel == nil || KindOf(err) == kind {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context.
// If err is nil, Wrap returns nil. If context is empty, returns err.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsCanceled reports whether the error indicates a canceled context.
func IsCanceled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}

// IsTimeout reports whether the error indicates a timeout.
// It checks for context.DeadlineExceeded, net.Error timeouts, and ErrTimeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsValidation reports whether the error indicates malformed input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUnauthorized reports whether the remote service rejected the credentials.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsRateLimited reports whether the remote service throttled the request.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsDependencyFailure reports whether the remote service failed.
func IsDependencyFailure(err error) bool {
	return errors.Is(err, ErrDependencyFailure)
}

// Recovered converts a value obtained from recover() into an internal error.
// It returns nil when r is nil.
func Recovered(r any) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return MarkKind(fmt.Errorf("panic: %w", err), KindInternal)
	}
	return MarkKind(fmt.Errorf("panic: %v", r), KindInternal)
}
