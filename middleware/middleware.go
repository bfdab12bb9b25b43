// Package middleware decorates a transport.Socket with cross-cutting behaviour.
//
// Decorators wrap the raw socket before it is handed to a connection, so the framing
// engine never knows they exist:
//
//	Chain(A, B, C)(sock) → A(B(C(sock)))
//	Write: A → B → C → sock
package middleware

import (
	"context"

	"mini-varlink/transport"
)

type Middleware func(next transport.Socket) transport.Socket

// Chain combines several middlewares into one. The first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next transport.Socket) transport.Socket {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// socketFuncs is a Socket assembled from two functions.
type socketFuncs struct {
	read  func(ctx context.Context, p []byte) (int, error)
	write func(ctx context.Context, p []byte) error
}

func (s socketFuncs) Read(ctx context.Context, p []byte) (int, error) { return s.read(ctx, p) }

func (s socketFuncs) Write(ctx context.Context, p []byte) error { return s.write(ctx, p) }
