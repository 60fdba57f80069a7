package transport

import (
	"context"
	"errors"
	"net"
	"sync"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("transport: pool closed")

// DialFunc opens one connection for a pool.
type DialFunc func(ctx context.Context) (net.Conn, error)

// Pool keeps up to size multiplexed transports to a single address and hands them out
// round-robin. Transports are dialed lazily and replaced once they report an error.
type Pool struct {
	mu         sync.Mutex
	addr       string
	size       int
	next       int
	transports []*ClientTransport // len <= size; nil slots are dialed on demand
	dial       DialFunc
	opts       Options
	closed     bool
}

// NewPool creates a pool for addr. size < 1 is treated as 1.
func NewPool(addr string, size int, opts Options, dial DialFunc) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		addr:       addr,
		size:       size,
		transports: make([]*ClientTransport, size),
		dial:       dial,
		opts:       opts,
	}
}

// Addr returns the address the pool dials.
func (p *Pool) Addr() string { return p.addr }

// Get returns a healthy transport, dialing a replacement for a broken or empty slot.
// Transports are shared: callers must not Close what they get.
func (p *Pool) Get(ctx context.Context) (*ClientTransport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	i := p.next
	p.next = (p.next + 1) % p.size
	if t := p.transports[i]; t != nil && t.Err() == nil {
		return t, nil
	}

	// Dialing under the lock keeps the pool from exceeding size.
	conn, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	t := NewClientTransport(conn, p.opts)
	p.transports[i] = t
	return t, nil
}

// Close shuts down the pool and every transport in it.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for i, t := range p.transports {
		if t != nil {
			t.Close()
			p.transports[i] = nil
		}
	}
	return nil
}
