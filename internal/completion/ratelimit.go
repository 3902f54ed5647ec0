package completion

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/taskd/internal/fault"
)

// RateLimited wraps a client with a token-bucket limiter so bursty
// phases (one request per file per step) cannot hammer a backend.
type RateLimited struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimited wraps inner, allowing rps requests per second with
// the given burst. A burst below 1 is raised to 1 so the limiter can
// make progress.
func NewRateLimited(inner Client, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Complete implements Client. It blocks until the limiter admits the
// request or the context is done.
func (c *RateLimited) Complete(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fault.Wrap(fault.CodeExternal, "completion.RateLimited.Complete", err)
	}
	return c.inner.Complete(ctx, req)
}
