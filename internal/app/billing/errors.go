package billing

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned by the read API for an unknown order id.
var ErrNotFound = errors.New("order not found")

// Retryable error wrapper for store failures that may succeed on redelivery.
type retryableError struct {
	err error
}

// Error returns the wrapped error's message.
func (e retryableError) Error() string {
	return e.err.Error()
}

// Unwrap returns the wrapped error.
func (e retryableError) Unwrap() error {
	return e.err
}

// Retryable wraps an error to mark it as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}

	return retryableError{err: err}
}

// IsRetryable returns true if the error is marked as retryable.
func IsRetryable(err error) bool {
	var r retryableError
	return errors.As(err, &r)
}

// fatalError marks a store rejection that redelivery cannot fix (schema mismatch, constraint).
type fatalError struct {
	err error
}

func (e fatalError) Error() string {
	return "fatal store error: " + e.err.Error()
}

func (e fatalError) Unwrap() error {
	return e.err
}

// Fatal wraps an error to mark it as a permanent store rejection.
func Fatal(err error) error {
	if err == nil {
		return nil
	}

	return fatalError{err: err}
}

// IsFatal returns true if the error is marked as fatal.
func IsFatal(err error) bool {
	var f fatalError
	return errors.As(err, &f)
}

// classify marks Postgres data exceptions (22), integrity violations (23) and
// syntax or schema errors (42) as fatal; everything else is retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23", "42":
			return Fatal(err)
		}
	}

	return Retryable(err)
}
