// Package loadbalance picks which line server a client request goes to.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity servers
//   - WeightedRandom:  servers with different capacity
//   - ConsistentHash:  the same uri always goes to the same server, keeping its page cache warm
package loadbalance

import "lineserve/registry"

// Balancer is the interface for load balancing strategies.
// The client calls Pick() before each request to select a target instance.
type Balancer interface {
	// Pick selects one instance from the available list. key is the request uri;
	// strategies that do not route by key ignore it.
	// Called on every request, so it must be goroutine-safe.
	Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name, or round robin for an unknown name.
func New(name string) Balancer {
	switch name {
	case "weighted_random", "WeightedRandom":
		return &WeightedRandomBalancer{}
	case "consistent_hash", "ConsistentHash":
		return NewConsistentHashBalancer()
	default:
		return &RoundRobinBalancer{}
	}
}
