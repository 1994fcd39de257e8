package queue

import (
	"context"
	"errors"
)

// Result carries either a value or the error that prevented it. A Result
// whose error is a context cancellation or deadline is cancelled rather
// than failed: the backend may still have applied the operation.
type Result[V any] struct {
	value  V
	err    error
	cancel bool
}

// Success returns a successful Result holding v.
func Success[V any](v V) Result[V] {
	return Result[V]{value: v}
}

// Fail returns a failed Result. Context errors produce a cancelled Result.
func Fail[V any](err error) Result[V] {
	return Result[V]{
		err:    err,
		cancel: errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded),
	}
}

func resultOf[V any](v V, err error) Result[V] {
	if err != nil {
		return Fail[V](err)
	}
	return Success(v)
}

// IsSuccess reports whether the operation succeeded.
func (r Result[V]) IsSuccess() bool { return r.err == nil }

// IsCancel reports whether the operation was interrupted by its context.
// The outcome on the backend is unknown and must be re-read.
func (r Result[V]) IsCancel() bool { return r.cancel }

// Value returns the value; the zero value when the operation failed.
func (r Result[V]) Value() V { return r.value }

// Err returns the failure, or nil.
func (r Result[V]) Err() error { return r.err }

// Unwrap returns the value and error as a pair.
func (r Result[V]) Unwrap() (V, error) { return r.value, r.err }
