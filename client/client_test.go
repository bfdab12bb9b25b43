package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"mini-varlink/connection"
	"mini-varlink/message"
	"mini-varlink/registry"
	"mini-varlink/transport/transporttest"

	"github.com/pkg/errors"
)

type AddArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

type AddReply struct {
	Sum int `json:"sum"`
}

type CountReply struct {
	N int `json:"n"`
}

func boolPtr(b bool) *bool { return &b }

// calculator serves org.example.calc: Add, Divide (always fails), Count (streams 3
// replies when asked for more) and Hang (never answers).
func calculator(call message.Call, params json.RawMessage) []any {
	switch call.Method {
	case "org.example.calc.Add":
		var args AddArgs
		json.Unmarshal(params, &args)
		return []any{message.Reply[AddReply]{Parameters: AddReply{Sum: args.A + args.B}}}
	case "org.example.calc.Divide":
		return []any{message.ErrorReply{Name: "org.example.calc.DivisionByZero"}}
	case "org.example.calc.Count":
		if !call.More {
			return []any{message.Reply[CountReply]{Parameters: CountReply{N: 0}}}
		}
		return []any{
			message.Reply[CountReply]{Parameters: CountReply{N: 1}, Continues: boolPtr(true)},
			message.Reply[CountReply]{Parameters: CountReply{N: 2}, Continues: boolPtr(true)},
			message.Reply[CountReply]{Parameters: CountReply{N: 3}, Continues: boolPtr(false)},
		}
	}
	return nil
}

func newTestClient(t *testing.T, addr string, opts ...Option) *Client {
	t.Helper()
	cli, err := New(append([]Option{WithAddress("tcp", addr), WithDialTimeout(time.Second)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cli.Close() })
	return cli
}

func (c *Client) openConns(network, addr string) int {
	p, err := c.pool(network, addr)
	if err != nil {
		return -1
	}
	return p.Open()
}

func TestClientCall(t *testing.T) {
	peer := transporttest.NewPeer(t, calculator)
	cli := newTestClient(t, peer.Addr(), WithPoolSize(1))
	ctx := context.Background()

	// Add(1, 2) = 3
	reply, replyErr, err := Call[AddReply, message.ErrorReply](ctx, cli, "org.example.calc", "Add", AddArgs{A: 1, B: 2})
	if err != nil {
		t.Fatal(err)
	}
	if replyErr != nil {
		t.Fatalf("unexpected error reply %v", replyErr)
	}
	if reply.Parameters.Sum != 3 {
		t.Fatalf("expect 3, got %v", reply.Parameters.Sum)
	}

	// Call again on the same connection: Add(10, 20) = 30
	reply, _, err = Call[AddReply, message.ErrorReply](ctx, cli, "org.example.calc", "Add", AddArgs{A: 10, B: 20})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Parameters.Sum != 30 {
		t.Fatalf("expect 30, got %v", reply.Parameters.Sum)
	}

	if n := cli.openConns("tcp", peer.Addr()); n != 1 {
		t.Fatalf("expect the connection to be reused, %d open", n)
	}
}

func TestClientCallErrorReply(t *testing.T) {
	peer := transporttest.NewPeer(t, calculator)
	cli := newTestClient(t, peer.Addr())

	reply, replyErr, err := Call[AddReply, message.ErrorReply](context.Background(), cli, "org.example.calc", "Divide", AddArgs{A: 1})
	if err != nil {
		t.Fatal(err)
	}
	if reply != nil {
		t.Fatalf("expect no success reply, got %+v", reply)
	}
	if replyErr == nil || replyErr.Name != "org.example.calc.DivisionByZero" {
		t.Fatalf("expect DivisionByZero, got %v", replyErr)
	}

	// An error reply is a complete exchange; the connection stays pooled.
	if n := cli.openConns("tcp", peer.Addr()); n != 1 {
		t.Fatalf("expect 1 open connection, got %d", n)
	}
}

func TestClientStream(t *testing.T) {
	peer := transporttest.NewPeer(t, calculator)
	cli := newTestClient(t, peer.Addr(), WithPoolSize(1))

	var got []int
	replyErr, err := Stream[CountReply, message.ErrorReply](context.Background(), cli, "org.example.calc", "Count", nil,
		func(r *message.Reply[CountReply]) error {
			got = append(got, r.Parameters.N)
			return nil
		})
	if err != nil || replyErr != nil {
		t.Fatalf("unexpected failure: %v %v", replyErr, err)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("expect [1 2 3], got %v", got)
	}

	calls := peer.Calls()
	if len(calls) != 1 || !calls[0].More {
		t.Fatalf("expect one call with more set, got %+v", calls)
	}
	if n := cli.openConns("tcp", peer.Addr()); n != 1 {
		t.Fatalf("expect a fully read stream to keep its connection, %d open", n)
	}
}

func TestClientStreamAbandoned(t *testing.T) {
	peer := transporttest.NewPeer(t, calculator)
	cli := newTestClient(t, peer.Addr(), WithPoolSize(1))
	stop := errors.New("enough")

	_, err := Stream[CountReply, message.ErrorReply](context.Background(), cli, "org.example.calc", "Count", nil,
		func(r *message.Reply[CountReply]) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expect callback error, got %v", err)
	}
	if n := cli.openConns("tcp", peer.Addr()); n != 0 {
		t.Fatalf("expect abandoned stream to discard its connection, %d open", n)
	}

	// The next call dials a fresh connection and is not confused by the unread replies.
	reply, _, err := Call[AddReply, message.ErrorReply](context.Background(), cli, "org.example.calc", "Add", AddArgs{A: 2, B: 2})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Parameters.Sum != 4 {
		t.Fatalf("expect 4, got %v", reply.Parameters.Sum)
	}
}

func TestClientOneway(t *testing.T) {
	peer := transporttest.NewPeer(t, calculator)
	cli := newTestClient(t, peer.Addr(), WithPoolSize(1))
	ctx := context.Background()

	if err := Oneway(ctx, cli, "org.example.calc", "Add", AddArgs{A: 5, B: 5}); err != nil {
		t.Fatal(err)
	}
	// A follow-up call on the same connection proves the oneway call produced no reply.
	reply, _, err := Call[AddReply, message.ErrorReply](ctx, cli, "org.example.calc", "Add", AddArgs{A: 1, B: 1})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Parameters.Sum != 2 {
		t.Fatalf("expect 2, got %v", reply.Parameters.Sum)
	}

	calls := peer.Calls()
	if len(calls) != 2 || !calls[0].Oneway || calls[1].Oneway {
		t.Fatalf("expect oneway then regular call, got %+v", calls)
	}
}

func TestClientDiscardsBrokenConnection(t *testing.T) {
	peer := transporttest.NewPeer(t, calculator)
	cli := newTestClient(t, peer.Addr(), WithPoolSize(1))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err := Call[AddReply, message.ErrorReply](ctx, cli, "org.example.calc", "Hang", nil)
	if !errors.Is(err, connection.ErrTransport) {
		t.Fatalf("expect transport error, got %v", err)
	}
	if n := cli.openConns("tcp", peer.Addr()); n != 0 {
		t.Fatalf("expect broken connection to be discarded, %d open", n)
	}

	reply, _, err := Call[AddReply, message.ErrorReply](context.Background(), cli, "org.example.calc", "Add", AddArgs{A: 3, B: 4})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Parameters.Sum != 7 {
		t.Fatalf("expect 7, got %v", reply.Parameters.Sum)
	}
}

func TestClientPoolWaitsForConnection(t *testing.T) {
	peer := transporttest.NewPeer(t, calculator)
	cli := newTestClient(t, peer.Addr(), WithPoolSize(1))

	p, err := cli.pool("tcp", peer.Addr())
	if err != nil {
		t.Fatal(err)
	}
	held, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, _, err := Call[AddReply, message.ErrorReply](ctx, cli, "org.example.calc", "Add", AddArgs{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect to time out waiting for the only connection, got %v", err)
	}

	p.Put(held)
	if _, _, err := Call[AddReply, message.ErrorReply](context.Background(), cli, "org.example.calc", "Add", AddArgs{}); err != nil {
		t.Fatal(err)
	}
}

func TestClientRegistry(t *testing.T) {
	peer := transporttest.NewPeer(t, calculator)
	reg := registry.NewStaticRegistry()
	reg.Register(context.Background(), "org.example.calc", registry.ServiceInstance{Addr: peer.Addr(), Weight: 1}, 0)

	cli, err := New(WithRegistry(reg))
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()

	reply, _, err := Call[AddReply, message.ErrorReply](context.Background(), cli, "org.example.calc", "Add", AddArgs{A: 20, B: 22})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Parameters.Sum != 42 {
		t.Fatalf("expect 42, got %v", reply.Parameters.Sum)
	}

	_, _, err = Call[AddReply, message.ErrorReply](context.Background(), cli, "org.example.unknown", "Add", nil)
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expect ErrNotFound for an unregistered interface, got %v", err)
	}
}

func TestClientClosed(t *testing.T) {
	peer := transporttest.NewPeer(t, calculator)
	cli := newTestClient(t, peer.Addr())
	cli.Close()

	if err := Oneway(context.Background(), cli, "org.example.calc", "Add", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	if _, err := New(); err == nil {
		t.Fatal("expect error without address or registry")
	}
}
