package middleware

import (
	"context"
	"time"

	"mini-varlink/transport"
)

// TimeOutMiddleware bounds each individual read and write by timeout. A caller-supplied
// deadline that is earlier still wins. timeout <= 0 disables it.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	if timeout <= 0 {
		return func(next transport.Socket) transport.Socket { return next }
	}
	return func(next transport.Socket) transport.Socket {
		return socketFuncs{
			read: func(ctx context.Context, p []byte) (int, error) {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				return next.Read(ctx, p)
			},
			write: func(ctx context.Context, p []byte) error {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				return next.Write(ctx, p)
			},
		}
	}
}
