// Package registry resolves varlink interface names to service addresses.
//
// The etcd implementation keeps one key per endpoint:
//
//	Key:   /{prefix}/{interface}/{addr}
//	Value: JSON-encoded ServiceInstance
//
// Registration uses TTL-based leases: if the service dies, the lease expires and the
// entry disappears without anyone deregistering it.
package registry

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const DefaultPrefix = "mini-varlink"

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // Thread-safe, shared across goroutines
	prefix string
	log    zerolog.Logger
}

// NewEtcdRegistry connects to the given etcd endpoints. An empty prefix means DefaultPrefix.
func NewEtcdRegistry(endpoints []string, prefix string, logger zerolog.Logger) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, errors.Wrap(err, "etcd connect")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &EtcdRegistry{client: c, prefix: strings.Trim(prefix, "/"), log: logger}, nil
}

func (r *EtcdRegistry) ifacePrefix(iface string) string {
	return "/" + r.prefix + "/" + iface + "/"
}

// Register stores instance under iface with a lease of ttl seconds and keeps the lease
// alive until ctx is done.
//
// The lease ID stays local to this call so one EtcdRegistry can register any number of
// instances concurrently.
func (r *EtcdRegistry) Register(ctx context.Context, iface string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Wrap(err, "etcd grant")
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := r.ifacePrefix(iface) + instance.Addr
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Wrapf(err, "etcd put %s", key)
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return errors.Wrap(err, "etcd keepalive")
	}

	// Drain keepalive responses so the channel never fills up.
	go func() {
		for range ch {
		}
		r.log.Debug().Str("key", key).Msg("registry lease keepalive stopped")
	}()
	r.log.Info().Str("interface", iface).Str("addr", instance.Addr).Int64("ttl", ttl).Msg("instance registered")
	return nil
}

// Deregister removes an instance immediately.
func (r *EtcdRegistry) Deregister(ctx context.Context, iface string, addr string) error {
	if _, err := r.client.Delete(ctx, r.ifacePrefix(iface)+addr); err != nil {
		return errors.Wrap(err, "etcd delete")
	}
	return nil
}

// Watch emits the full instance list of iface every time it changes, until ctx is done.
func (r *EtcdRegistry) Watch(ctx context.Context, iface string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, r.ifacePrefix(iface), clientv3.WithPrefix())
		for range watchChan {
			// Re-fetch instead of applying individual events.
			instances, err := r.Discover(ctx, iface)
			if err != nil && !errors.Is(err, ErrNotFound) {
				r.log.Warn().Err(err).Str("interface", iface).Msg("registry refresh failed")
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns every registered instance of iface.
func (r *EtcdRegistry) Discover(ctx context.Context, iface string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, r.ifacePrefix(iface), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "etcd get")
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.log.Warn().Str("key", string(kv.Key)).Msg("skipping malformed registry entry")
			continue
		}
		instances = append(instances, instance)
	}
	if len(instances) == 0 {
		return nil, errors.Wrap(ErrNotFound, iface)
	}
	return instances, nil
}

// Close releases the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
