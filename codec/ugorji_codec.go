package codec

import (
	"github.com/pkg/errors"
	ugorji "github.com/ugorji/go/codec"
)

// UgorjiJSONCodec encodes with github.com/ugorji/go/codec's JSON handle.
// It streams straight into dst instead of building the document in a private buffer first,
// and picks up the same `json` struct tags as encoding/json.
type UgorjiJSONCodec struct {
	handle *ugorji.JsonHandle
}

func NewUgorjiJSONCodec() *UgorjiJSONCodec {
	h := &ugorji.JsonHandle{}
	h.HTMLCharsAsIs = true
	return &UgorjiJSONCodec{handle: h}
}

func (c *UgorjiJSONCodec) Encode(dst []byte, v any) (int, error) {
	w := &fixedWriter{buf: dst}
	if err := ugorji.NewEncoder(w, c.handle).Encode(v); err != nil {
		if w.overflow {
			return 0, ErrShortBuffer
		}
		return 0, errors.Wrap(err, "ugorji codec: encode")
	}
	if w.overflow {
		return 0, ErrShortBuffer
	}
	return w.n, nil
}

func (c *UgorjiJSONCodec) Decode(data []byte, v any) error {
	return ugorji.NewDecoderBytes(data, c.handle).Decode(v)
}

func (c *UgorjiJSONCodec) Type() CodecType {
	return CodecTypeUgorjiJSON
}
