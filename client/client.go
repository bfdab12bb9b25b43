// Package client calls methods on varlink services.
//
// A Client finds the endpoint serving an interface (a static address, or a registry plus a
// load balancer), borrows a connection from that endpoint's pool, and runs one call on it:
//
//	Call    one call, one reply
//	Stream  a "more" call, one callback per reply until the service stops continuing
//	Oneway  a call that expects no reply
//
// Each borrowed connection is used by one caller at a time, so a Client is safe for
// concurrent use while the connections themselves are not.
package client

import (
	"context"
	"io"
	"sync"
	"time"

	"mini-varlink/config"
	"mini-varlink/connection"
	"mini-varlink/loadbalance"
	"mini-varlink/message"
	"mini-varlink/middleware"
	"mini-varlink/registry"
	"mini-varlink/transport"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const DefaultPoolSize = 4

var ErrClosed = errors.New("client: closed")

type Client struct {
	registry    registry.Registry
	balancer    loadbalance.Balancer
	network     string
	address     string // Static endpoint for every interface; empty means use the registry
	poolSize    int
	dialTimeout time.Duration
	middlewares []middleware.Middleware
	connOptions func() connection.Options
	log         zerolog.Logger
	closers     []io.Closer

	mu     sync.Mutex
	pools  map[string]*connPool
	closed bool
}

type Option func(*Client)

// WithAddress sends every call to one endpoint instead of resolving it.
func WithAddress(network, address string) Option {
	return func(c *Client) {
		c.network = network
		c.address = address
	}
}

func WithRegistry(reg registry.Registry) Option {
	return func(c *Client) { c.registry = reg }
}

func WithBalancer(b loadbalance.Balancer) Option {
	return func(c *Client) { c.balancer = b }
}

// WithPoolSize caps the connections kept per endpoint.
func WithPoolSize(n int) Option {
	return func(c *Client) { c.poolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithMiddleware decorates the socket of every connection the client dials.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mw...) }
}

// WithConnectionOptions sets the options for new connections. fn is called once per dial
// and must return a fresh read buffer each time.
func WithConnectionOptions(fn func() connection.Options) Option {
	return func(c *Client) { c.connOptions = fn }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// New builds a client. Either WithAddress or WithRegistry is required.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		network:  "tcp",
		poolSize: DefaultPoolSize,
		log:      zerolog.Nop(),
		pools:    make(map[string]*connPool),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.address == "" && c.registry == nil {
		return nil, errors.New("client: no address and no registry")
	}
	if c.balancer == nil {
		c.balancer = &loadbalance.RoundRobinBalancer{}
	}
	if c.poolSize <= 0 {
		c.poolSize = DefaultPoolSize
	}
	if c.connOptions == nil {
		c.connOptions = func() connection.Options { return connection.Options{} }
	}
	return c, nil
}

// NewFromConfig builds a client from loaded settings. When no static address is
// configured it connects to the etcd registry, which Close releases.
func NewFromConfig(cfg config.Config, logger zerolog.Logger) (*Client, error) {
	bal, err := loadbalance.New(cfg.Client.Balancer)
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithBalancer(bal),
		WithPoolSize(cfg.Client.PoolSize),
		WithDialTimeout(cfg.Transport.DialTimeout.Duration),
		WithLogger(logger),
		WithConnectionOptions(cfg.Connection.Options),
		WithMiddleware(
			middleware.LoggingMiddleware(logger),
			middleware.RateLimitMiddleware(cfg.Transport.RateLimit, cfg.Transport.RateBurst),
			middleware.TimeOutMiddleware(cfg.Transport.OpTimeout.Duration),
		),
	}

	var reg *registry.EtcdRegistry
	if cfg.Transport.Address != "" {
		opts = append(opts, WithAddress(cfg.Transport.Network, cfg.Transport.Address))
	} else {
		reg, err = registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.Prefix, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithRegistry(reg))
	}

	c, err := New(opts...)
	if err != nil {
		if reg != nil {
			reg.Close()
		}
		return nil, err
	}
	if reg != nil {
		c.closers = append(c.closers, reg)
	}
	return c, nil
}

// Call invokes iface.method and waits for its single reply. A reply error is returned as
// the second value, with a nil error.
func Call[P, E any](ctx context.Context, c *Client, iface, method string, params any) (*message.Reply[P], *E, error) {
	pc, pool, err := c.acquire(ctx, iface)
	if err != nil {
		return nil, nil, err
	}
	defer pool.Put(pc)

	if err := pc.SendCall(ctx, iface, method, params, message.Flags{}); err != nil {
		return nil, nil, err
	}
	reply, replyErr, err := connection.ReceiveReply[P, E](ctx, pc.Conn)
	if reply != nil && reply.More() {
		// The service streams although no stream was asked for; what follows is unread.
		pc.unusable = true
	}
	return reply, replyErr, err
}

// Stream invokes iface.method with the "more" flag and calls fn for each reply until one
// arrives without "continues". An error reply ends the stream and is returned as the first
// value. If fn fails, the stream is abandoned and fn's error returned.
func Stream[P, E any](ctx context.Context, c *Client, iface, method string, params any, fn func(*message.Reply[P]) error) (*E, error) {
	pc, pool, err := c.acquire(ctx, iface)
	if err != nil {
		return nil, err
	}
	defer pool.Put(pc)

	if err := pc.SendCall(ctx, iface, method, params, message.Flags{More: true}); err != nil {
		return nil, err
	}
	for {
		reply, replyErr, err := connection.ReceiveReply[P, E](ctx, pc.Conn)
		if err != nil {
			pc.unusable = true
			return nil, err
		}
		if replyErr != nil {
			return replyErr, nil
		}
		if err := fn(reply); err != nil {
			pc.unusable = reply.More()
			return nil, err
		}
		if !reply.More() {
			return nil, nil
		}
	}
}

// Oneway sends iface.method with the "oneway" flag and returns once it is written.
func Oneway(ctx context.Context, c *Client, iface, method string, params any) error {
	pc, pool, err := c.acquire(ctx, iface)
	if err != nil {
		return err
	}
	defer pool.Put(pc)

	return pc.SendCall(ctx, iface, method, params, message.Flags{Oneway: true})
}

// Close closes the idle connections of every pool and anything NewFromConfig opened.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pools := c.pools
	c.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
	var firstErr error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Client) acquire(ctx context.Context, iface string) (*pooledConn, *connPool, error) {
	network, addr, err := c.resolve(ctx, iface)
	if err != nil {
		return nil, nil, err
	}
	pool, err := c.pool(network, addr)
	if err != nil {
		return nil, nil, err
	}
	pc, err := pool.Get(ctx)
	if err != nil {
		return nil, nil, err
	}
	return pc, pool, nil
}

func (c *Client) resolve(ctx context.Context, iface string) (string, string, error) {
	if c.address != "" {
		return c.network, c.address, nil
	}
	instances, err := c.registry.Discover(ctx, iface)
	if err != nil {
		return "", "", err
	}
	inst, err := c.balancer.Pick(instances)
	if err != nil {
		return "", "", errors.Wrap(err, iface)
	}
	network := inst.Network
	if network == "" {
		network = "tcp"
	}
	c.log.Trace().Str("interface", iface).Str("addr", inst.Addr).Str("balancer", c.balancer.Name()).Msg("endpoint picked")
	return network, inst.Addr, nil
}

func (c *Client) pool(network, addr string) (*connPool, error) {
	key := network + "://" + addr

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	p, ok := c.pools[key]
	if !ok {
		p = newConnPool(key, c.poolSize, func(ctx context.Context) (*pooledConn, error) {
			return c.dial(ctx, network, addr)
		}, c.log)
		c.pools[key] = p
	}
	return p, nil
}

func (c *Client) dial(ctx context.Context, network, addr string) (*pooledConn, error) {
	if c.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()
	}
	sock, err := transport.Dial(ctx, network, addr)
	if err != nil {
		c.log.Debug().Err(err).Str("addr", addr).Msg("dial failed")
		return nil, err
	}

	opts := c.connOptions()
	if opts.Logger == nil {
		logger := c.log.With().Str("addr", addr).Logger()
		opts.Logger = &logger
	}
	conn := connection.New(middleware.Chain(c.middlewares...)(sock), opts)
	return &pooledConn{Conn: conn, close: sock.Close}, nil
}
