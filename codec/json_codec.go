package codec

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Pros: honours json.Marshaler/Unmarshaler on every type, zero extra dependencies on the hot path.
// Cons: the encoder buffers the whole document internally before it is copied into dst.
type JSONCodec struct{}

func (c *JSONCodec) Encode(dst []byte, v any) (int, error) {
	// Encoder terminates every document with '\n' in the same write; the wire format wants
	// one line, and a document that exactly fills dst must still fit.
	w := &fixedWriter{buf: dst, trimNewline: true}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		if w.overflow {
			return 0, ErrShortBuffer
		}
		return 0, errors.Wrap(err, "json codec: encode")
	}
	return w.n, nil
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
