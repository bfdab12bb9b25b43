package registry

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ServiceInstance is one endpoint implementing a varlink interface.
type ServiceInstance struct {
	Addr    string `json:"addr"`
	Network string `json:"network,omitempty"` // "tcp" when empty
	Weight  int    `json:"weight,omitempty"`  // Weight for load balancing
	Version string `json:"version,omitempty"`
}

// ErrNotFound is returned by Discover when no instance implements the interface.
var ErrNotFound = errors.New("registry: no instance for interface")

// Registry maps interface names (e.g. "org.example.ftl") to the endpoints serving them.
type Registry interface {
	Register(ctx context.Context, iface string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, iface string, addr string) error
	Discover(ctx context.Context, iface string) ([]ServiceInstance, error)
	Watch(ctx context.Context, iface string) <-chan []ServiceInstance
}

// StaticRegistry is an in-memory Registry. TTLs are ignored and Watch never fires.
type StaticRegistry struct {
	mu        sync.RWMutex
	instances map[string][]ServiceInstance
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{instances: make(map[string][]ServiceInstance)}
}

func (s *StaticRegistry) Register(_ context.Context, iface string, instance ServiceInstance, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	insts := s.instances[iface]
	for i, inst := range insts {
		if inst.Addr == instance.Addr {
			insts[i] = instance
			return nil
		}
	}
	s.instances[iface] = append(insts, instance)
	return nil
}

func (s *StaticRegistry) Deregister(_ context.Context, iface string, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	insts := s.instances[iface]
	for i, inst := range insts {
		if inst.Addr == addr {
			s.instances[iface] = append(insts[:i:i], insts[i+1:]...)
			break
		}
	}
	return nil
}

func (s *StaticRegistry) Discover(_ context.Context, iface string) ([]ServiceInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	insts := s.instances[iface]
	if len(insts) == 0 {
		return nil, errors.Wrap(ErrNotFound, iface)
	}
	return append([]ServiceInstance(nil), insts...), nil
}

func (s *StaticRegistry) Watch(_ context.Context, _ string) <-chan []ServiceInstance {
	return nil
}
