// Package protocol implements the NUL-delimited framing of mini-varlink.
//
// Every document is one line of JSON followed by a single NUL byte. Documents contain
// no NUL bytes themselves, so the receiver splits the stream on NUL and never needs a
// length header. When a reader appends its own NUL sentinel after the bytes it received,
// a batch that ended on a document boundary shows up as two consecutive NULs.
//
// Stream layout after a read of two pipelined replies (· = NUL):
//
//	cursor                                   filled
//	  │                                        │
//	  ▼                                        ▼
//	  {"parameters":{"x":1}}·{"parameters":{}}··
//	  └────────── doc 1 ────┘└──── doc 2 ────┘│└ sentinel written by the reader
//	                                          └ terminator of doc 2
package protocol

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// Terminator ends every document on the wire.
const Terminator byte = 0

// Overhead is the number of framing bytes added to each document.
const Overhead = 1

// ErrEmbeddedTerminator is returned when a document to be framed contains a NUL byte.
var ErrEmbeddedTerminator = errors.New("protocol: document contains a NUL byte")

// Split locates the document that starts at cursor within buf[cursor:filled].
//
// It returns the document (without terminator) and the offset at which the next
// document starts. A NUL directly following the terminator marks the end of a batch
// and is skipped. next == filled means everything buffered has been consumed.
// ok is false when buf[cursor:filled] does not hold a complete document.
func Split(buf []byte, cursor, filled int) (doc []byte, next int, ok bool) {
	idx := bytes.IndexByte(buf[cursor:filled], Terminator)
	if idx < 0 {
		return nil, cursor, false
	}
	end := cursor + idx
	next = end + 1
	if next < filled && buf[next] == Terminator {
		next++
	}
	return buf[cursor:end], next, true
}

// HasFrame reports whether data holds at least one complete document.
func HasFrame(data []byte) bool {
	return bytes.IndexByte(data, Terminator) >= 0
}

// WriteFrame writes doc followed by its terminator to w in a single Write call.
func WriteFrame(w io.Writer, doc []byte) error {
	if bytes.IndexByte(doc, Terminator) >= 0 {
		return ErrEmbeddedTerminator
	}
	frame := make([]byte, 0, len(doc)+Overhead)
	frame = append(frame, doc...)
	frame = append(frame, Terminator)
	_, err := w.Write(frame)
	return err
}

// ScanFrames is a bufio.SplitFunc yielding one document per token. Empty documents
// produced by batch-ending double NULs are skipped.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && data[start] == Terminator {
		start++
	}
	if i := bytes.IndexByte(data[start:], Terminator); i >= 0 {
		return start + i + 1, data[start : start+i], nil
	}
	if atEOF {
		if start < len(data) {
			return len(data), nil, io.ErrUnexpectedEOF
		}
		return len(data), nil, nil
	}
	return start, nil, nil
}

// NewScanner returns a bufio.Scanner that reads documents from r, allowing documents
// up to maxSize bytes.
func NewScanner(r io.Reader, maxSize int) *bufio.Scanner {
	s := bufio.NewScanner(r)
	initial := 4096
	if maxSize < initial {
		initial = maxSize
	}
	s.Buffer(make([]byte, 0, initial), maxSize)
	s.Split(ScanFrames)
	return s
}
