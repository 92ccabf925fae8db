package sockframe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosing indicates the pool is shutting down.
var ErrClosing = errors.New("pool is closing")

// Pool manages a collection of reusable client connections.
type Pool interface {
	Get() (*Conn, error)
	GetWithContext(context.Context) (*Conn, error)
	Release(*Conn)
	Put(*Conn)
	Len() int
	Cap() int
	Close()
}

// Factory creates new connections to addr.
type Factory func(addr string) (*Conn, error)

// DialFactory returns a Factory dialing with the given per-operation timeout.
func DialFactory(timeout time.Duration, opts ...ConnOption) Factory {
	return func(addr string) (*Conn, error) {
		return Dial(context.Background(), addr, timeout, opts...)
	}
}

// pool implements the Pool interface.
type pool struct {
	mu          sync.Mutex
	addr        string
	capacity    uint32
	count       atomic.Uint32
	queue       chan *Conn
	factoryFunc Factory
	closing     bool
	logger      Logger
}

// NewPoolList creates one pool per address.
func NewPoolList(poolCap uint32, f Factory, addrs []string, l Logger) []Pool {
	pools := make([]Pool, 0, len(addrs))

	for _, addr := range addrs {
		p := NewPool(poolCap, f, addr, l)
		pools = append(pools, p)
	}

	return pools
}

// NewPool creates a new connection pool. Returns the Pool interface.
func NewPool(poolCap uint32, f Factory, addr string, l Logger) Pool {
	if l == nil {
		l = &NoopLogger{}
	}

	return &pool{
		addr:        addr,
		capacity:    poolCap,
		queue:       make(chan *Conn, poolCap),
		factoryFunc: f,
		logger:      l,
	}
}

// validateConnection rejects connections that can no longer carry a message.
func (p *pool) validateConnection(c *Conn) bool {
	return c != nil && c.State() == StateOpen
}

func (p *pool) isClosing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closing
}

// Get retrieves a connection, dialing a new one while under capacity.
func (p *pool) Get() (*Conn, error) {
	return p.GetWithContext(context.Background())
}

// GetWithContext retrieves a connection with context awareness.
func (p *pool) GetWithContext(ctx context.Context) (*Conn, error) {
	if p.isClosing() {
		return nil, ErrClosing
	}

	// Try to reuse idle connections.
	select {
	case c, ok := <-p.queue:
		if !ok {
			return nil, ErrClosing
		}
		if p.validateConnection(c) {
			return c, nil
		}
		p.Release(c)
	default:
	}

	// Check context before growing pool.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	// Grow pool if under capacity.
	for {
		current := p.count.Load()
		if current >= p.capacity {
			break
		}
		if p.count.CompareAndSwap(current, current+1) {
			c, err := p.factoryFunc(p.addr)
			if err != nil {
				p.count.Add(^uint32(0))
				return nil, err
			}

			return c, nil
		}
	}

	// Block until a connection is available or context done.
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c, ok := <-p.queue:
			if !ok {
				return nil, ErrClosing
			}
			if p.validateConnection(c) {
				return c, nil
			}
			p.Release(c)
		}
	}
}

// Put returns a connection to the pool.
func (p *pool) Put(c *Conn) {
	if c == nil {
		return
	}

	p.mu.Lock()
	if p.closing || !p.validateConnection(c) {
		p.mu.Unlock()
		p.Release(c)
		return
	}

	// Try non-blocking put or release.
	select {
	case p.queue <- c:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		p.Release(c)
	}
}

// Release closes a connection and decrements the pool count.
func (p *pool) Release(c *Conn) {
	if c == nil {
		return
	}

	p.count.Add(^uint32(0))
	if err := c.Close(); err != nil {
		p.logger.Warnf("error closing pooled connection %d: %v", c.ID(), err)
	}
}

// Close closes the pool and all idle connections.
func (p *pool) Close() {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return
	}
	p.closing = true
	close(p.queue)

	toClose := make([]*Conn, 0, cap(p.queue))
	for c := range p.queue {
		toClose = append(toClose, c)
	}
	p.mu.Unlock()

	for _, c := range toClose {
		p.Release(c)
	}
}

// Len returns the number of connections currently owned by the pool.
func (p *pool) Len() int {
	return int(p.count.Load())
}

// Cap returns the capacity of the pool.
func (p *pool) Cap() int {
	return int(p.capacity)
}
