package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Set VARLINK_ETCD_ENDPOINTS=127.0.0.1:2379 to run against a real etcd.
func etcdEndpoints(t *testing.T) []string {
	raw := os.Getenv("VARLINK_ETCD_ENDPOINTS")
	if raw == "" {
		t.Skip("VARLINK_ETCD_ENDPOINTS not set")
	}
	return strings.Split(raw, ",")
}

func TestRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t), "mini-varlink-test", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	if err := reg.Register(ctx, "org.example.ftl", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "org.example.ftl", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(ctx, "org.example.ftl")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(ctx, "org.example.ftl", inst1.Addr); err != nil {
		t.Fatal(err)
	}

	instances, err = reg.Discover(ctx, "org.example.ftl")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Addr != inst2.Addr {
		t.Fatalf("expect only %s after deregister, got %v", inst2.Addr, instances)
	}

	reg.Deregister(ctx, "org.example.ftl", inst2.Addr)
	if _, err := reg.Discover(ctx, "org.example.ftl"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expect ErrNotFound after cleanup, got %v", err)
	}
}

func TestWatch(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t), "mini-varlink-test", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const iface = "org.example.watch"
	inst := ServiceInstance{Addr: "127.0.0.1:8101", Weight: 1}
	reg.Deregister(ctx, iface, inst.Addr)

	updates := reg.Watch(ctx, iface)
	// Give the watcher time to be established before changing the prefix.
	time.Sleep(200 * time.Millisecond)

	waitFor := func(what string, ok func([]ServiceInstance) bool) {
		t.Helper()
		for {
			select {
			case instances, open := <-updates:
				if !open {
					t.Fatalf("watch closed while waiting for %s", what)
				}
				if ok(instances) {
					return
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for %s", what)
			}
		}
	}

	if err := reg.Register(ctx, iface, inst, 10); err != nil {
		t.Fatal(err)
	}
	waitFor("registration", func(instances []ServiceInstance) bool {
		return len(instances) == 1 && instances[0].Addr == inst.Addr
	})

	if err := reg.Deregister(ctx, iface, inst.Addr); err != nil {
		t.Fatal(err)
	}
	waitFor("deregistration", func(instances []ServiceInstance) bool {
		return len(instances) == 0
	})

	cancel()
	for range updates {
	}
}

func TestStaticRegistry(t *testing.T) {
	reg := NewStaticRegistry()
	ctx := context.Background()

	if _, err := reg.Discover(ctx, "org.example.ftl"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expect ErrNotFound, got %v", err)
	}

	reg.Register(ctx, "org.example.ftl", ServiceInstance{Addr: "a:1", Weight: 1}, 0)
	reg.Register(ctx, "org.example.ftl", ServiceInstance{Addr: "b:1", Weight: 1}, 0)
	reg.Register(ctx, "org.example.ftl", ServiceInstance{Addr: "a:1", Weight: 3}, 0)

	instances, err := reg.Discover(ctx, "org.example.ftl")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 || instances[0].Weight != 3 {
		t.Fatalf("expect re-registration to replace a:1, got %v", instances)
	}

	reg.Deregister(ctx, "org.example.ftl", "a:1")
	instances, _ = reg.Discover(ctx, "org.example.ftl")
	if len(instances) != 1 || instances[0].Addr != "b:1" {
		t.Fatalf("expect only b:1, got %v", instances)
	}
}
