package destination

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/config"
	"golang.org/x/time/rate"
)

const defaultBaseBackoff = 200 * time.Millisecond

// errPermanent marks a failure that another attempt cannot fix
var errPermanent = errors.New("permanent failure")

func permanent(err error) error {
	return fmt.Errorf("%w: %w", errPermanent, err)
}

// retrier applies rate limiting, a per attempt timeout and exponential backoff to remote calls
type retrier struct {
	limiter     *rate.Limiter
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
}

func newRetrier(common *config.CommonDestinationConfig) *retrier {
	// default 0
	var limiter *rate.Limiter
	if common.MaxRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(common.MaxRPS), common.MaxRPS) // burst = MaxRPS
	}

	maxRetries := common.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	return &retrier{
		limiter:     limiter,
		timeout:     time.Duration(common.TimeoutSeconds) * time.Second,
		maxRetries:  maxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// withRetry executes fn until it succeeds, returns a permanent error, or attempts run out
func withRetry[T any](ctx context.Context, r *retrier, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for i := 0; i < r.maxRetries; i++ {
		if i > 0 {
			// Exponential backoff before next retry
			backoff := time.Duration(math.Pow(2, float64(i-1))) * r.baseBackoff
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		// Rate limiting: wait for token before each attempt
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return zero, fmt.Errorf("rate limiter error: %w", err)
			}
		}

		var reqCtx context.Context
		var cancel context.CancelFunc
		if r.timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, r.timeout)
		} else {
			reqCtx, cancel = context.WithCancel(ctx)
		}
		resp, err := fn(reqCtx)
		cancel()

		if err == nil {
			return resp, nil
		}
		if errors.Is(err, errPermanent) || ctx.Err() != nil {
			return zero, err
		}
		lastErr = err
	}

	return zero, fmt.Errorf("all %d attempts failed: %w", r.maxRetries, lastErr)
}
