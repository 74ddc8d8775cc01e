package util

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryOperation retries operation with an exponential backoff capped at maxWait,
// giving up after retries attempts or when ctx is done.
func RetryOperation(ctx context.Context, maxWait time.Duration, retries int, operation func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = maxWait / 10
	eb.MaxInterval = maxWait
	eb.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
	return backoff.Retry(operation, bo)
}
