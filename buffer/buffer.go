// Package buffer provides the two read-buffer disciplines of a connection.
//
// Both expose the same working slice and the same EnsureCapacity contract, so the framing
// code is identical whichever one a connection was built with:
//
//	Fixed     allocated once; any request beyond its size fails with ErrOverflow
//	Growable  extends by a fixed increment until it would exceed its ceiling
package buffer

import (
	"github.com/pkg/errors"
)

const (
	DefaultSize      = 1024        // Initial read/write buffer size
	DefaultIncrement = 1024        // Growth step of a Growable buffer
	DefaultCeiling   = 1024 * 1024 // Hard limit of a Growable buffer
	MethodNameSize   = 256         // Fixed size of the method-name scratch buffer
)

// ErrOverflow is returned when a buffer cannot provide the requested capacity.
var ErrOverflow = errors.New("buffer: capacity exceeded")

// Policy is a zero-filled byte slice whose usable length may only be extended through EnsureCapacity.
type Policy interface {
	// Bytes returns the whole working area. The slice is only valid until the next
	// successful EnsureCapacity call.
	Bytes() []byte
	// EnsureCapacity makes len(Bytes()) >= n, preserving the existing contents.
	EnsureCapacity(n int) error
	// Len is len(Bytes()).
	Len() int
	// Grows counts how many times the buffer has been extended.
	Grows() int
}

// Fixed is a buffer that never reallocates.
type Fixed struct {
	buf []byte
}

// NewFixed allocates a zeroed buffer of exactly size bytes.
func NewFixed(size int) *Fixed {
	return &Fixed{buf: make([]byte, size)}
}

func (f *Fixed) Bytes() []byte { return f.buf }

func (f *Fixed) Len() int { return len(f.buf) }

func (f *Fixed) Grows() int { return 0 }

func (f *Fixed) EnsureCapacity(n int) error {
	if n > len(f.buf) {
		return errors.Wrapf(ErrOverflow, "need %d bytes, fixed size is %d", n, len(f.buf))
	}
	return nil
}

// Growable is a buffer that extends in increments up to a ceiling.
type Growable struct {
	buf       []byte
	increment int
	ceiling   int
	grows     int
}

// NewGrowable allocates a zeroed buffer of size bytes that may grow by increment
// bytes at a time, never beyond ceiling. Non-positive arguments take the defaults.
func NewGrowable(size, increment, ceiling int) *Growable {
	if size <= 0 {
		size = DefaultSize
	}
	if increment <= 0 {
		increment = DefaultIncrement
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if size > ceiling {
		size = ceiling
	}
	return &Growable{
		buf:       make([]byte, size),
		increment: increment,
		ceiling:   ceiling,
	}
}

func (g *Growable) Bytes() []byte { return g.buf }

func (g *Growable) Len() int { return len(g.buf) }

func (g *Growable) Grows() int { return g.grows }

// Ceiling is the size the buffer will never exceed.
func (g *Growable) Ceiling() int { return g.ceiling }

func (g *Growable) EnsureCapacity(n int) error {
	if n <= len(g.buf) {
		return nil
	}
	if n > g.ceiling {
		return errors.Wrapf(ErrOverflow, "need %d bytes, ceiling is %d", n, g.ceiling)
	}
	size := len(g.buf)
	for size < n {
		size += g.increment
	}
	if size > g.ceiling {
		size = g.ceiling
	}
	grown := make([]byte, size)
	copy(grown, g.buf)
	g.buf = grown
	g.grows++
	return nil
}
