// Package registry maps service names to the addresses serving them.
//
// Two implementations are provided: EtcdRegistry, a TTL-leased directory shared by every
// server and client pointed at the same etcd cluster, and StaticRegistry, a fixed table
// used when the address is given on the command line.
package registry

import (
	"context"
	"errors"
)

// ErrNoInstances is returned by Discover when nothing serves the named service.
var ErrNoInstances = errors.New("registry: no instances")

type ServiceInstance struct {
	Addr    string
	Weight  int // Weight for load balancing
	Version string
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
