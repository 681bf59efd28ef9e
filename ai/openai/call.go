package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"golang.org/x/time/rate"

	"github.com/poiesic/contractor/ai"
	"github.com/poiesic/contractor/core"
)

// ErrProviderRejected marks provider responses that retrying cannot fix
// (bad request, auth, unknown model).
var ErrProviderRejected = errors.New("provider rejected request")

var rejectedStatus = regexp.MustCompile(`status code:? (400|401|403|404|422)\b`)

// caller applies rate limiting, a per-call timeout and the retry policy to
// every request a service makes.
type caller struct {
	limiter *rate.Limiter
	timeout time.Duration
	retry   ai.RetryPolicy
	logger  *slog.Logger
}

func newCaller(config *ai.Config, logger *slog.Logger) *caller {
	retry := config.Retry
	retry.Retryable = func(err error) bool {
		return core.IsTransient(err) && !errors.Is(err, ErrProviderRejected)
	}
	return &caller{
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		timeout: config.Timeout,
		retry:   retry,
		logger:  logger,
	}
}

// do runs fn under the retry policy. Each attempt waits for the limiter and
// runs detached from ctx cancellation with its own timeout: when ctx is
// cancelled do returns immediately and the attempt's result is discarded.
func (c *caller) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return c.retry.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s: rate limiter: %w", core.ErrEmbeddingProvider, op, err)
		}

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		done := make(chan error, 1)
		go func() {
			defer cancel()
			done <- fn(callCtx)
		}()

		select {
		case <-ctx.Done():
			c.logger.Debug("caller went away, discarding provider result", "op", op)
			return ctx.Err()
		case err := <-done:
			return classify(op, err)
		}
	})
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrEmbeddingProvider):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: timed out: %w", core.ErrEmbeddingProvider, op, err)
	case rejectedStatus.MatchString(err.Error()):
		return fmt.Errorf("%w: %s: %w: %w", core.ErrEmbeddingProvider, op, ErrProviderRejected, err)
	default:
		return fmt.Errorf("%w: %s: %w", core.ErrEmbeddingProvider, op, err)
	}
}
