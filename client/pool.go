package client

import (
	"context"
	"sync"

	"mini-varlink/connection"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var errPoolClosed = errors.New("client: connection pool closed")

// pooledConn is a connection borrowed from a connPool. A connection serves one call at a
// time, so replies never need correlating.
type pooledConn struct {
	*connection.Conn
	close    func() error
	unusable bool // Set when the caller abandoned replies still in flight
}

// connPool keeps up to max connections to one address.
//
// Two buffered channels do the bookkeeping: slots holds one token per connection that
// may exist, idle holds connections waiting to be borrowed (FIFO). Connections are dialled
// lazily, the pool starts empty.
type connPool struct {
	addr  string
	slots chan struct{}
	idle  chan *pooledConn
	dial  func(ctx context.Context) (*pooledConn, error)
	log   zerolog.Logger

	mu     sync.Mutex
	closed bool
	open   int // Connections currently dialled, idle or borrowed
}

func newConnPool(addr string, max int, dial func(ctx context.Context) (*pooledConn, error), logger zerolog.Logger) *connPool {
	return &connPool{
		addr:  addr,
		slots: make(chan struct{}, max),
		idle:  make(chan *pooledConn, max),
		dial:  dial,
		log:   logger,
	}
}

// Get borrows a connection, dialling one when none is idle. It blocks while max
// connections are borrowed, until one is returned or ctx is done.
func (p *connPool) Get(ctx context.Context) (*pooledConn, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "waiting for a connection to %s", p.addr)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, errPoolClosed
	}
	p.mu.Unlock()

	select {
	case pc := <-p.idle:
		return pc, nil
	default:
	}

	pc, err := p.dial(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	p.mu.Lock()
	p.open++
	p.mu.Unlock()
	p.log.Debug().Str("addr", p.addr).Msg("connection dialled")
	return pc, nil
}

// Put returns a borrowed connection. Connections whose stream can no longer be trusted are
// closed instead of being kept.
func (p *connPool) Put(pc *pooledConn) {
	defer func() { <-p.slots }()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || pc.Broken() || pc.unusable || len(pc.Buffered()) > 0 {
		p.discard(pc)
		return
	}
	p.idle <- pc
}

// Close closes every idle connection. Borrowed connections are closed when returned.
func (p *connPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for {
		select {
		case pc := <-p.idle:
			p.discard(pc)
		default:
			return nil
		}
	}
}

// Open is the number of connections currently dialled.
func (p *connPool) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// discard must be called with p.mu held.
func (p *connPool) discard(pc *pooledConn) {
	p.open--
	if err := pc.close(); err != nil {
		p.log.Debug().Err(err).Str("addr", p.addr).Msg("closing discarded connection")
	}
	p.log.Debug().Str("addr", p.addr).Bool("broken", pc.Broken()).Msg("connection discarded")
}
