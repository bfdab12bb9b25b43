// Package loadbalance picks which endpoint serves the next varlink call when an
// interface is implemented by several services.
//
// Two strategies are implemented:
//   - RoundRobin:      Equal-capacity instances
//   - WeightedRandom:  Heterogeneous instances, chosen in proportion to their weight
package loadbalance

import (
	"mini-varlink/registry"

	"github.com/pkg/errors"
)

// ErrNoInstances is returned by Pick for an empty instance list.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is the interface for load balancing strategies.
// The client calls Pick() each time it needs a connection for a call.
type Balancer interface {
	// Pick selects one instance from the available list.
	// Called concurrently by every caller of the client, so it must be goroutine-safe.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name: "round_robin" (also the default for "")
// or "weighted_random".
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	}
	return nil, errors.Errorf("loadbalance: unknown strategy %q", name)
}
