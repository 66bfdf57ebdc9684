// Package guard runs calls to external collaborators under a hard timeout
// with panic recovery, so no caller can be suspended indefinitely by a
// misbehaving provider, backend or transport.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPanic wraps a recovered panic.
var ErrPanic = errors.New("recovered panic")

type outcome[T any] struct {
	val T
	err error
}

// Call runs fn with a context bounded by timeout. It returns when fn returns
// or when the deadline passes, whichever comes first. A fn that ignores its
// context keeps running in the background but its result is discarded.
// A non-positive timeout only applies the parent context.
func Call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		var o outcome[T]
		defer func() {
			if r := recover(); r != nil {
				o.err = fmt.Errorf("%w: %v", ErrPanic, r)
			}
			done <- o
		}()
		o.val, o.err = fn(callCtx)
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-callCtx.Done():
		var zero T
		return zero, callCtx.Err()
	}
}

// IsTimeout reports whether err came from an expired deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
