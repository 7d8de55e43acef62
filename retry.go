package bake

import (
	"context"
	"errors"
	log "log/slog"
	"os"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry executes task with Fibonacci backoff, retrying up to 5 times after
// the first attempt; the direct-I/O helpers use it for open, read and
// write. If retries are exhausted, gaveUp is invoked (when not nil)
// and the final error is returned.
func Retry(ctx context.Context, task func(ctx context.Context) error, gaveUp func(ctx context.Context)) error {
	b := retry.NewFibonacci(10 * time.Millisecond)
	if err := retry.Do(ctx, retry.WithMaxRetries(5, b), task); err != nil {
		log.Warn("retry exhausted", "error", err)
		if gaveUp != nil {
			gaveUp(ctx)
		}
		return err
	}
	return nil
}

// ShouldRetry reports whether err represents a transient condition worth
// retrying, as opposed to a permanent failure (bad argument, quota
// exceeded, read-only device) that a retry loop would never overcome.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, os.ErrExist) {
		return false
	}
	switch {
	case errors.Is(err, syscall.EROFS),
		errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.EDQUOT),
		errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EPERM),
		errors.Is(err, syscall.ENAMETOOLONG),
		errors.Is(err, syscall.ENOTDIR),
		errors.Is(err, syscall.EISDIR),
		errors.Is(err, syscall.EINVAL),
		errors.Is(err, syscall.EEXIST):
		return false
	}
	return true
}

// RetryableIOError wraps err as a retry.RetryableError when ShouldRetry
// allows it, otherwise returns err unchanged so the enclosing Retry call
// stops immediately instead of exhausting its attempt budget on a
// permanent failure.
func RetryableIOError(err error) error {
	if err == nil {
		return nil
	}
	if !ShouldRetry(err) {
		return err
	}
	return retry.RetryableError(NewError(IO, err))
}
