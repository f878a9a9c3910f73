package transport_test

import (
	"testing"
	"time"

	"github.com/schedulezero/schedulezero/internal/transport"
)

func TestCall_RoundTrip(t *testing.T) {
	methods := map[string]transport.MethodFunc{
		"echo": func(params map[string]any) (any, error) {
			return params["x"], nil
		},
	}
	srv, addr, err := transport.Listen("127.0.0.1:0", methods)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()
	go srv.Serve()

	reply, err := transport.Call(addr, transport.Envelope{
		V: 1, Op: transport.OpCall, FiringID: "f1", Method: "echo",
		Params: map[string]any{"x": "hello"}, DeadlineMS: 2000,
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Status != transport.StatusOK {
		t.Fatalf("status = %q, want ok", reply.Status)
	}
	if reply.Result != "hello" {
		t.Fatalf("result = %v, want hello", reply.Result)
	}
}

func TestCall_UnknownMethod(t *testing.T) {
	srv, addr, err := transport.Listen("127.0.0.1:0", map[string]transport.MethodFunc{})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()
	go srv.Serve()

	reply, err := transport.Call(addr, transport.Envelope{
		V: 1, Op: transport.OpCall, FiringID: "f1", Method: "nope", DeadlineMS: 2000,
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Status != transport.StatusError || reply.Retryable {
		t.Fatalf("expected non-retryable error reply, got %+v", reply)
	}
}

func TestCall_MethodPanicBecomesNonRetryableError(t *testing.T) {
	methods := map[string]transport.MethodFunc{
		"boom": func(params map[string]any) (any, error) {
			panic("kaboom")
		},
	}
	srv, addr, err := transport.Listen("127.0.0.1:0", methods)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()
	go srv.Serve()

	reply, err := transport.Call(addr, transport.Envelope{
		V: 1, Op: transport.OpCall, FiringID: "f1", Method: "boom", DeadlineMS: 2000,
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Status != transport.StatusError || reply.Retryable {
		t.Fatalf("expected non-retryable error reply, got %+v", reply)
	}
}

func TestCall_TimeoutOnSlowMethod(t *testing.T) {
	block := make(chan struct{})
	methods := map[string]transport.MethodFunc{
		"slow": func(params map[string]any) (any, error) {
			<-block
			return nil, nil
		},
	}
	srv, addr, err := transport.Listen("127.0.0.1:0", methods)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()
	defer close(block)
	go srv.Serve()

	_, err = transport.Call(addr, transport.Envelope{
		V: 1, Op: transport.OpCall, FiringID: "f1", Method: "slow", DeadlineMS: 50,
	})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestPubSub_PrefixFiltering(t *testing.T) {
	broker, err := transport.NewBroker("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	defer broker.Close()
	go broker.Serve()

	sub, err := transport.Subscribe(broker.Addr(), "schedule.")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	// Give the broker's Accept goroutine a moment to register the subscriber.
	time.Sleep(50 * time.Millisecond)

	broker.Publish("handler.registered", map[string]any{"id": "h1"})
	broker.Publish("schedule.added", map[string]any{"id": "s1"})

	select {
	case ev := <-sub.Events():
		if ev.Topic != "schedule.added" {
			t.Fatalf("topic = %q, want schedule.added", ev.Topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for matching event")
	}
}
