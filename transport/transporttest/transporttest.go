// Package transporttest provides socket doubles for exercising connections without a network.
package transporttest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"

	"mini-varlink/message"
	"mini-varlink/protocol"
)

// Socket is a scripted transport.Socket. Each Read delivers the next queued chunk, split
// across several reads when the caller's slice is smaller than the chunk.
type Socket struct {
	chunks [][]byte
	writes [][]byte

	Reads    int   // Number of Read calls, including failed ones
	ReadErr  error // Returned once the queue is empty; io.EOF when nil
	WriteErr error // Returned by every Write when set
}

// New returns a socket that will deliver chunks in order.
func New(chunks ...string) *Socket {
	s := &Socket{}
	s.Push(chunks...)
	return s
}

// Push queues more chunks.
func (s *Socket) Push(chunks ...string) {
	for _, c := range chunks {
		s.chunks = append(s.chunks, []byte(c))
	}
}

// Pending is the number of queued chunks not yet fully read.
func (s *Socket) Pending() int {
	return len(s.chunks)
}

func (s *Socket) Read(ctx context.Context, p []byte) (int, error) {
	s.Reads++
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(s.chunks) == 0 {
		if s.ReadErr != nil {
			return 0, s.ReadErr
		}
		return 0, io.EOF
	}
	c := s.chunks[0]
	n := copy(p, c)
	if n < len(c) {
		s.chunks[0] = c[n:]
	} else {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

func (s *Socket) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.writes = append(s.writes, bytes.Clone(p))
	return nil
}

// Writes returns every successful Write in order.
func (s *Socket) Writes() [][]byte {
	return s.writes
}

// Written returns all bytes written so far.
func (s *Socket) Written() []byte {
	return bytes.Join(s.writes, nil)
}

// Handler answers one call with zero or more reply documents. All documents returned for
// one call are written back as a single batch.
type Handler func(call message.Call, params json.RawMessage) []any

// Peer is a minimal service endpoint on a loopback TCP listener.
type Peer struct {
	listener net.Listener
	handler  Handler
	wg       sync.WaitGroup

	mu    sync.Mutex
	calls []message.Call
	conns []net.Conn
}

// NewPeer starts a peer on 127.0.0.1 and stops it when the test ends.
func NewPeer(t testing.TB, handler Handler) *Peer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	p := &Peer{listener: l, handler: handler}
	p.wg.Add(1)
	go p.serve()
	t.Cleanup(p.close)
	return p
}

// Addr is the address the peer listens on.
func (p *Peer) Addr() string {
	return p.listener.Addr().String()
}

// Calls returns the calls received so far.
func (p *Peer) Calls() []message.Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]message.Call(nil), p.calls...)
}

func (p *Peer) close() {
	p.listener.Close()
	p.mu.Lock()
	for _, c := range p.conns {
		c.Close()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Peer) serve() {
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		p.conns = append(p.conns, conn)
		p.mu.Unlock()
		p.wg.Add(1)
		go p.handleConn(conn)
	}
}

func (p *Peer) handleConn(conn net.Conn) {
	defer p.wg.Done()
	defer conn.Close()

	s := protocol.NewScanner(conn, 1024*1024)
	for s.Scan() {
		var raw struct {
			message.Call
			Parameters json.RawMessage `json:"parameters"`
		}
		if err := json.Unmarshal(s.Bytes(), &raw); err != nil {
			return
		}
		call := raw.Call
		call.Parameters = raw.Parameters

		p.mu.Lock()
		p.calls = append(p.calls, call)
		p.mu.Unlock()

		replies := p.handler(call, raw.Parameters)
		if call.Oneway || len(replies) == 0 {
			continue
		}
		var batch bytes.Buffer
		for _, r := range replies {
			doc, err := json.Marshal(r)
			if err != nil {
				return
			}
			if err := protocol.WriteFrame(&batch, doc); err != nil {
				return
			}
		}
		if _, err := conn.Write(batch.Bytes()); err != nil {
			return
		}
	}
}
