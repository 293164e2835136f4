package util

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// RetryUntilSuccess calls performAction until it returns nil, waiting retryDelay after every failure.
// onError, if not nil, sees every failure. The context error is returned if ctx is done first.
func RetryUntilSuccess(ctx context.Context, performAction func() error, onError func(error), retryDelay time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}
		err := performAction()
		if err == nil {
			return nil
		}
		if onError != nil {
			onError(err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(retryDelay):
		}
	}
}
