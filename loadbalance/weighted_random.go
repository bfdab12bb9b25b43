package loadbalance

import (
	"math/rand"

	"mini-varlink/registry"
)

// WeightedRandomBalancer picks instance i with probability weight_i / sum(weights).
// Instances with a non-positive weight count as weight 1, so registrations that
// never set a weight still receive traffic.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	total := 0
	for i := range instances {
		total += weight(&instances[i])
	}

	r := rand.Intn(total)
	for i := range instances {
		r -= weight(&instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	// unreachable: r < total
	return &instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}

func weight(inst *registry.ServiceInstance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
