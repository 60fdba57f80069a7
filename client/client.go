// Package client issues calls against services found through a registry. Each call
// discovers the service's instances, lets the balancer pick one, and runs over a pooled
// multiplexed transport to that address.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"interop-rpc/loadbalance"
	"interop-rpc/message"
	"interop-rpc/registry"
	"interop-rpc/transport"
)

// ErrClosed is returned for calls made after Close.
var ErrClosed = errors.New("client: closed")

// DefaultPoolSize is the number of connections kept per instance.
const DefaultPoolSize = 1

// Options configure a Client.
type Options struct {
	Transport transport.Options
	TLS       transport.TLSConfig
	PoolSize  int // connections per instance; < 1 selects DefaultPoolSize
	Logger    *zap.Logger
}

type Client struct {
	registry registry.Registry // find service instance from registry
	balancer loadbalance.Balancer
	opts     Options
	log      *zap.Logger

	mu     sync.Mutex
	pools  map[string]*transport.Pool // transports for each service instance
	closed bool
}

// NewClient creates a client. A nil balancer selects round robin.
func NewClient(reg registry.Registry, bal loadbalance.Balancer, opts Options) *Client {
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}
	if opts.PoolSize < 1 {
		opts.PoolSize = DefaultPoolSize
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		registry: reg,
		balancer: bal,
		opts:     opts,
		log:      log,
		pools:    make(map[string]*transport.Pool),
	}
}

func (c *Client) pool(addr string) (*transport.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	p, ok := c.pools[addr]
	if !ok {
		tlsConfig := c.opts.TLS
		p = transport.NewPool(addr, c.opts.PoolSize, c.opts.Transport, func(ctx context.Context) (net.Conn, error) {
			return transport.Dial(ctx, addr, tlsConfig)
		})
		c.pools[addr] = p
	}
	return p, nil
}

// transportFor resolves serviceMethod to a live transport.
func (c *Client) transportFor(ctx context.Context, serviceMethod string) (*transport.ClientTransport, error) {
	i := strings.LastIndex(serviceMethod, ".")
	if i <= 0 {
		return nil, fmt.Errorf("client: invalid serviceMethod format: %q", serviceMethod)
	}
	serviceName := serviceMethod[:i]

	instances, err := c.registry.Discover(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	instance, err := c.balancer.Pick(instances)
	if err != nil {
		return nil, err
	}
	p, err := c.pool(instance.Addr)
	if err != nil {
		return nil, err
	}
	t, err := p.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("client: connect %s: %w", instance.Addr, err)
	}
	c.log.Debug("picked instance", zap.String("method", serviceMethod), zap.String("addr", instance.Addr), zap.String("balancer", c.balancer.Name()))
	return t, nil
}

// Call performs one unary call and unmarshals the response into reply. A handler
// failure is returned as a *transport.RemoteError; a broken connection wraps
// transport.ErrConnClosed; an expired ctx returns ctx.Err().
func (c *Client) Call(ctx context.Context, serviceMethod string, args, reply message.Message) error {
	t, err := c.transportFor(ctx, serviceMethod)
	if err != nil {
		return err
	}

	seq, ch, err := t.Send(serviceMethod, args)
	if err != nil {
		return err
	}

	var res transport.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		t.Cancel(seq)
		return ctx.Err()
	}
	if res.Err != nil {
		return res.Err
	}
	if res.Message.Error != "" {
		return &transport.RemoteError{Method: serviceMethod, Message: res.Message.Error}
	}
	return reply.Unmarshal(res.Message.Payload)
}

// NewStream opens a streaming call bound to ctx.
func (c *Client) NewStream(ctx context.Context, serviceMethod string) (*transport.ClientStream, error) {
	t, err := c.transportFor(ctx, serviceMethod)
	if err != nil {
		return nil, err
	}
	return t.OpenStream(ctx, serviceMethod)
}

// Close shuts every pooled connection. In-flight calls fail with transport.ErrConnClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for addr, p := range c.pools {
		p.Close()
		delete(c.pools, addr)
	}
	return nil
}
