// Package loadbalance chooses which application server a session connects to.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity servers
//   - WeightedRandom:  servers of different capacity
//   - ConsistentHash:  the same user lands on the same server while the set is stable
package loadbalance

import (
	"errors"
	"fmt"

	"proxygen/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is the interface for load balancing strategies.
// A session calls Pick when it connects; key is the connecting user.
type Balancer interface {
	// Pick selects one instance from the available list. It must be goroutine-safe.
	Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// ByName returns a fresh balancer for a configuration name.
func ByName(name string) (Balancer, error) {
	switch name {
	case "roundrobin", "":
		return &RoundRobinBalancer{}, nil
	case "weightedrandom":
		return &WeightedRandomBalancer{}, nil
	case "consistenthash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
}
