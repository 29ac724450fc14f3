package service

import (
	"context"
	"errors"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/storage"
)

// retrier runs one store call under a per-attempt deadline and retries
// transient failures with doubling backoff.
type retrier struct {
	timeout  time.Duration
	attempts int
	backoff  time.Duration
}

func (r retrier) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := r.backoff
	var last error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, r.timeout)
		err := fn(actx)
		cancel()
		if err == nil {
			return nil
		}
		if !transient(err) {
			return err
		}
		last = err
		if ctx.Err() != nil {
			break
		}
		logger.Debugf("%s: attempt %d/%d failed: %v", op, attempt, r.attempts, err)
		if attempt == r.attempts {
			break
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return apperr.Wrap(apperr.ErrUnavailable, op, ctx.Err())
		case <-t.C:
		}
		backoff *= 2
	}
	logger.Errorf("%s: storage unavailable: %v", op, last)
	return apperr.Wrap(apperr.ErrUnavailable, op, last)
}

func transient(err error) bool {
	return errors.Is(err, storage.ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// call is do for operations that return a value.
func call[T any](ctx context.Context, r retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
