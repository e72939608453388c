// Package registry tracks where the application servers of each application run.
package registry

import "context"

// ServiceInstance is one running application server.
type ServiceInstance struct {
	Addr    string
	Weight  int // Weight for load balancing
	Version string
}

type Registry interface {
	Register(ctx context.Context, application string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, application string, addr string) error
	Discover(ctx context.Context, application string) ([]ServiceInstance, error)
	// Watch emits the full instance list whenever it changes, until ctx ends.
	Watch(ctx context.Context, application string) <-chan []ServiceInstance
}
