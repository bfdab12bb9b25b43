package connection

import (
	"github.com/pkg/errors"
)

// Error kinds. Match them with errors.Is.
var (
	ErrBufferOverflow  = errors.New("buffer overflow")
	ErrSerialization   = errors.New("serialization failed")
	ErrDeserialization = errors.New("deserialization failed")
	ErrTransport       = errors.New("transport failure")
)

// Error is returned by every Conn operation.
type Error struct {
	Op   string // "send", "receive" or "read"
	Kind error  // One of the Err* kinds above
	Err  error  // Underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "varlink " + e.Op + ": " + e.Kind.Error()
	}
	return "varlink " + e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the error's kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

func newError(op string, kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}
