package crawler

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Sentinel errors shared across stores, brokers, and services. The helpers
// below wrap them, so both errors.Is flavours match.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrValidation        = errors.New("invalid request")
	ErrNotConnected      = errors.New("broker not connected")
	ErrPaginationStalled = errors.New("pagination did not terminate")

	errTransient = errors.New("transient failure")
	errPermanent = errors.New("permanent failure")
)

// NotFoundf wraps ErrNotFound with context, e.g. NotFoundf("job %s", id).
func NotFoundf(format string, args ...any) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

// Validationf wraps ErrValidation with the offending rule.
func Validationf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// InvalidTransition wraps ErrInvalidTransition for a rejected status change.
func InvalidTransition(jobID string, from, to JobStatus) error {
	return errors.Wrapf(ErrInvalidTransition, "job %s: %s -> %s", jobID, from, to)
}

// MarkTransient flags err as worth redelivering.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errTransient)
}

// MarkPermanent flags err as final; it wins over any transient cause.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errPermanent)
}

// IsTransient reports whether a failed job should be retried via redelivery.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, errPermanent) {
		return false
	}
	return errors.IsAny(err,
		errTransient,
		ErrNotConnected,
		ErrPaginationStalled,
		context.DeadlineExceeded,
	)
}
