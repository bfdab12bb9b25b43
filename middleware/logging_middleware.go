package middleware

import (
	"context"
	"time"

	"mini-varlink/transport"

	"github.com/rs/zerolog"
)

// LoggingMiddleware traces every socket operation with its size, duration and error.
func LoggingMiddleware(logger zerolog.Logger) Middleware {
	return func(next transport.Socket) transport.Socket {
		return socketFuncs{
			read: func(ctx context.Context, p []byte) (int, error) {
				start := time.Now()
				n, err := next.Read(ctx, p)
				if err != nil {
					logger.Debug().Err(err).Dur("duration", time.Since(start)).Msg("socket read failed")
					return n, err
				}
				logger.Trace().Int("bytes", n).Dur("duration", time.Since(start)).Msg("socket read")
				return n, nil
			},
			write: func(ctx context.Context, p []byte) error {
				start := time.Now()
				err := next.Write(ctx, p)
				if err != nil {
					logger.Debug().Err(err).Int("bytes", len(p)).Dur("duration", time.Since(start)).Msg("socket write failed")
					return err
				}
				logger.Trace().Int("bytes", len(p)).Dur("duration", time.Since(start)).Msg("socket write")
				return nil
			},
		}
	}
}
