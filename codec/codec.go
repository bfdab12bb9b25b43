// Package codec is the serialization capability used by the connection.
//
// Encoding never allocates an output buffer: the caller hands in a fixed slice and the
// codec either fits the document into it or fails with ErrShortBuffer. That is what lets
// a connection run with buffers sized once at construction.
package codec

import (
	"github.com/pkg/errors"
)

type CodecType byte

const (
	CodecTypeJSON       CodecType = 0
	CodecTypeUgorjiJSON CodecType = 1
)

// ErrShortBuffer is returned by Encode when the document does not fit dst.
var ErrShortBuffer = errors.New("codec: encoded value does not fit the output buffer")

type Codec interface {
	// Encode writes v as a single-line document at the start of dst and returns
	// the number of bytes used.
	Encode(dst []byte, v any) (int, error)
	// Decode parses data into v. It fails when data does not match the shape of v.
	Decode(data []byte, v any) error
	Type() CodecType
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeUgorjiJSON {
		return NewUgorjiJSONCodec()
	}

	return &JSONCodec{}
}

// fixedWriter is an io.Writer over a slice that never grows.
type fixedWriter struct {
	buf         []byte
	n           int
	overflow    bool
	trimNewline bool // Drop a trailing '\n' from each write before it is counted
}

func (w *fixedWriter) Write(p []byte) (int, error) {
	q := p
	if w.trimNewline && len(q) > 0 && q[len(q)-1] == '\n' {
		q = q[:len(q)-1]
	}
	if len(q) > len(w.buf)-w.n {
		w.overflow = true
		return 0, ErrShortBuffer
	}
	w.n += copy(w.buf[w.n:], q)
	return len(p), nil
}
