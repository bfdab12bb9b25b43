// Package connection implements the client side of a mini-varlink connection: sending
// method calls and extracting replies from a NUL-framed byte stream.
//
// All working memory is allocated in New and reused for every call/reply pair:
//
//	nameBuf   "interface.method" scratch       fixed
//	writeBuf  one encoded call + terminator    fixed
//	readBuf   one or more received replies     buffer.Policy (fixed or growable)
//
// Read buffer state between two ReceiveReply calls:
//
//	0        cursor                     filled
//	│ ...... │ next doc · next doc · ... │·  ← sentinel NUL written after every read
//	└ consumed                           └ end of received bytes
//
// A Conn is not safe for concurrent use. Pipelining works without it: send several calls,
// then call ReceiveReply once per expected reply. Replies that arrived together in one read
// are handed out one at a time without touching the socket again.
package connection

import (
	"context"
	"io"
	"unsafe"

	"mini-varlink/buffer"
	"mini-varlink/codec"
	"mini-varlink/message"
	"mini-varlink/protocol"
	"mini-varlink/transport"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// maxEmptyReads bounds consecutive (0, nil) reads before the socket is considered stuck.
const maxEmptyReads = 100

// Options configures a Conn. Zero fields take the defaults.
type Options struct {
	WriteBufferSize int             // Default buffer.DefaultSize
	MethodNameSize  int             // Default buffer.MethodNameSize
	ReadBuffer      buffer.Policy   // Default buffer.NewGrowable with default increment and ceiling
	Codec           codec.Codec     // Default codec.JSONCodec
	Logger          *zerolog.Logger // Default zerolog.Nop()
}

// Conn is a client connection over a single socket.
type Conn struct {
	socket transport.Socket
	codec  codec.Codec
	log    zerolog.Logger

	nameBuf  []byte
	writeBuf []byte
	readBuf  buffer.Policy
	cursor   int  // Start of the next undelivered document in readBuf
	filled   int  // End of received bytes in readBuf
	broken   bool // Set once the byte stream can no longer be trusted
}

// New creates a connection over socket.
func New(socket transport.Socket, opts Options) *Conn {
	if opts.WriteBufferSize <= 0 {
		opts.WriteBufferSize = buffer.DefaultSize
	}
	if opts.MethodNameSize <= 0 {
		opts.MethodNameSize = buffer.MethodNameSize
	}
	if opts.ReadBuffer == nil {
		opts.ReadBuffer = buffer.NewGrowable(buffer.DefaultSize, buffer.DefaultIncrement, buffer.DefaultCeiling)
	}
	if opts.Codec == nil {
		opts.Codec = &codec.JSONCodec{}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Conn{
		socket:   socket,
		codec:    opts.Codec,
		log:      logger,
		nameBuf:  make([]byte, 0, opts.MethodNameSize),
		writeBuf: make([]byte, opts.WriteBufferSize),
		readBuf:  opts.ReadBuffer,
	}
}

// SendCall encodes a call to interface.method and writes it to the socket.
//
// Nothing is written when the method name does not fit the scratch buffer
// (ErrBufferOverflow) or the encoded call does not fit the write buffer (ErrSerialization).
func (c *Conn) SendCall(ctx context.Context, iface, method string, params any, flags message.Flags) error {
	name, err := c.pushMethodName(iface, method)
	if err != nil {
		return err
	}

	call := message.NewCall(name, params, flags)
	n, err := c.codec.Encode(c.writeBuf[:len(c.writeBuf)-protocol.Overhead], call)
	if err != nil {
		c.log.Debug().Err(err).Str("method", name).Msg("call does not fit write buffer")
		return newError("send", ErrSerialization, err)
	}
	c.writeBuf[n] = protocol.Terminator

	if err := c.socket.Write(ctx, c.writeBuf[:n+protocol.Overhead]); err != nil {
		c.broken = true
		return newError("send", ErrTransport, err)
	}
	c.log.Debug().Str("method", name).Int("bytes", n+protocol.Overhead).
		Bool("oneway", flags.Oneway).Bool("more", flags.More).Msg("call sent")
	return nil
}

// ReceiveReply reads the next reply from c.
//
// The document is first decoded as E. E must fail to decode anything that is not an error
// reply, for example by requiring an "error" field (see message.ErrorReply). If that
// succeeds the error variant is returned; otherwise the document is decoded as a
// message.Reply[P], and failure there is ErrDeserialization.
//
// Exactly one of the returned reply and reply error is non-nil when err is nil.
func ReceiveReply[P, E any](ctx context.Context, c *Conn) (*message.Reply[P], *E, error) {
	doc, err := c.Receive(ctx)
	if err != nil {
		return nil, nil, err
	}

	var replyErr E
	if err := c.codec.Decode(doc, &replyErr); err == nil {
		return nil, &replyErr, nil
	}

	var reply message.Reply[P]
	if err := c.codec.Decode(doc, &reply); err != nil {
		c.log.Debug().Err(err).Int("bytes", len(doc)).Msg("malformed reply")
		return nil, nil, newError("receive", ErrDeserialization, err)
	}
	return &reply, nil, nil
}

// Receive returns the next framed document without decoding it. The slice aliases the
// read buffer and is only valid until the next call on c.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if err := c.readFromSocket(ctx); err != nil {
		return nil, err
	}

	// readFromSocket guarantees a complete document at the cursor.
	doc, next, _ := protocol.Split(c.readBuf.Bytes(), c.cursor, c.filled)
	if next >= c.filled {
		// Last buffered document: the next receive reads from the socket again.
		c.cursor, c.filled = 0, 0
	} else {
		c.cursor = next
	}
	return doc, nil
}

// readFromSocket makes sure a complete document starts at the cursor, reading from the
// socket only when none is buffered.
func (c *Conn) readFromSocket(ctx context.Context) error {
	if protocol.HasFrame(c.readBuf.Bytes()[c.cursor:c.filled]) {
		return nil
	}

	if c.cursor > 0 {
		// Move the incomplete tail of the previous batch to the front.
		buf := c.readBuf.Bytes()
		c.filled = copy(buf, buf[c.cursor:c.filled])
		c.cursor = 0
	}

	reads, empty := 0, 0
	for {
		// One byte to read into plus the sentinel.
		if err := c.ensureCapacity(c.filled + 1 + protocol.Overhead); err != nil {
			c.broken = true
			return newError("read", ErrBufferOverflow, err)
		}

		buf := c.readBuf.Bytes()
		n, err := c.socket.Read(ctx, buf[c.filled:len(buf)-protocol.Overhead])
		reads++
		if err != nil {
			c.broken = true
			return newError("read", ErrTransport, err)
		}

		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				c.broken = true
				return newError("read", ErrTransport, io.ErrNoProgress)
			}
			continue
		}
		empty = 0

		start := c.filled
		c.filled += n
		buf[c.filled] = protocol.Terminator
		if protocol.HasFrame(buf[start:c.filled]) {
			break
		}
	}

	c.log.Trace().Int("bytes", c.filled).Int("reads", reads).Msg("batch buffered")
	return nil
}

func (c *Conn) ensureCapacity(n int) error {
	grows := c.readBuf.Grows()
	if err := c.readBuf.EnsureCapacity(n); err != nil {
		c.log.Warn().Err(err).Int("size", c.readBuf.Len()).Msg("incoming message exceeds read buffer")
		return err
	}
	if c.readBuf.Grows() != grows {
		c.log.Debug().Int("size", c.readBuf.Len()).Msg("read buffer grown")
	}
	return nil
}

func (c *Conn) pushMethodName(iface, method string) (string, error) {
	need := len(iface) + 1 + len(method)
	if need > cap(c.nameBuf) {
		err := errors.Errorf("method name %s.%s needs %d bytes, scratch buffer holds %d",
			iface, method, need, cap(c.nameBuf))
		return "", newError("send", ErrBufferOverflow, err)
	}

	c.nameBuf = append(c.nameBuf[:0], iface...)
	c.nameBuf = append(c.nameBuf, '.')
	c.nameBuf = append(c.nameBuf, method...)
	// The name aliases nameBuf and is only valid until the next pushMethodName.
	return unsafe.String(unsafe.SliceData(c.nameBuf), len(c.nameBuf)), nil
}

// Buffered returns the received bytes not yet handed out, e.g. data that followed the
// reply to an upgrade call. The slice aliases the read buffer.
func (c *Conn) Buffered() []byte {
	return c.readBuf.Bytes()[c.cursor:c.filled]
}

// Socket returns the underlying socket.
func (c *Conn) Socket() transport.Socket {
	return c.socket
}

// Broken reports whether a transport failure or read overflow left the stream in an
// unknown state. Broken connections should be closed rather than reused.
func (c *Conn) Broken() bool {
	return c.broken
}
