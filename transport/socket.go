// Package transport is the byte-stream capability underneath a connection.
//
// A Socket is deliberately minimal: one read into a caller-owned slice, one write of a
// whole slice. Framing, buffering and decoding all live above it in the connection, so any
// stream (TCP, a Unix socket, an in-memory pipe in tests) can carry mini-varlink traffic.
//
//	Connection ──Write(doc·)──→ Socket ──→ peer
//	Connection ←──Read(buf)──── Socket ←── peer
package transport

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Socket is an asynchronous byte stream.
// Implementations need not be safe for concurrent use; a connection drives one socket
// from a single goroutine.
type Socket interface {
	// Read reads up to len(p) bytes into p, blocking until at least one byte is
	// available, ctx is done, or the stream fails.
	Read(ctx context.Context, p []byte) (int, error)
	// Write writes all of p or returns an error.
	Write(ctx context.Context, p []byte) error
}

// NetSocket adapts a net.Conn to Socket. Context deadlines and cancellation are mapped
// onto the connection's read and write deadlines.
type NetSocket struct {
	conn net.Conn
}

// NewNetSocket wraps conn.
func NewNetSocket(conn net.Conn) *NetSocket {
	return &NetSocket{conn: conn}
}

// Dial connects to address and wraps the resulting connection.
func Dial(ctx context.Context, network, address string) (*NetSocket, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s %s", network, address)
	}
	return NewNetSocket(conn), nil
}

func (s *NetSocket) Read(ctx context.Context, p []byte) (int, error) {
	stop := s.watch(ctx, s.conn.SetReadDeadline)
	n, err := s.conn.Read(p)
	stop()
	if err != nil {
		return n, s.contextErr(ctx, err)
	}
	return n, nil
}

func (s *NetSocket) Write(ctx context.Context, p []byte) error {
	stop := s.watch(ctx, s.conn.SetWriteDeadline)
	_, err := s.conn.Write(p)
	stop()
	if err != nil {
		return s.contextErr(ctx, err)
	}
	return nil
}

// Conn returns the underlying connection.
func (s *NetSocket) Conn() net.Conn {
	return s.conn
}

// Close closes the underlying connection.
func (s *NetSocket) Close() error {
	return s.conn.Close()
}

// watch applies ctx's deadline and arranges for cancellation to interrupt the pending
// operation. The returned func must be called once the operation finished.
func (s *NetSocket) watch(ctx context.Context, setDeadline func(time.Time) error) func() {
	deadline, _ := ctx.Deadline()
	setDeadline(deadline) // zero time clears a previous deadline
	if ctx.Done() == nil {
		return func() {}
	}
	stop := context.AfterFunc(ctx, func() {
		setDeadline(time.Now())
	})
	return func() { stop() }
}

// contextErr prefers the context's error when the operation failed because of it.
func (s *NetSocket) contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(ctxErr, err.Error())
	}
	return err
}
