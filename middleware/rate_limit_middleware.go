package middleware

import (
	"context"

	"mini-varlink/transport"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware paces writes with a token bucket. Every write (one call) waits for
// a token; reads are not limited. r <= 0 disables the limit.
func RateLimitMiddleware(r float64, burst int) Middleware {
	if r <= 0 {
		return func(next transport.Socket) transport.Socket { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next transport.Socket) transport.Socket {
		return socketFuncs{
			read: next.Read,
			write: func(ctx context.Context, p []byte) error {
				if err := limiter.Wait(ctx); err != nil {
					return errors.Wrap(err, "rate limit")
				}
				return next.Write(ctx, p)
			},
		}
	}
}
