package handlerruntime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/schedulezero/schedulezero/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegister_SendsHandlerIDAddressAndMethods(t *testing.T) {
	var gotMethod string
	var gotParams map[string]any
	caller := func(addr string, req transport.Envelope) (transport.Envelope, error) {
		gotMethod = req.Method
		gotParams = req.Params
		return transport.Envelope{Status: transport.StatusOK}, nil
	}

	rt := New("h1", "127.0.0.1:9999", map[string]MethodFunc{"echo": func(map[string]any) (any, error) { return nil, nil }}, testLogger(), withCaller(caller))

	if err := rt.register("127.0.0.1:5000"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if gotMethod != "register" {
		t.Errorf("method = %q, want register", gotMethod)
	}
	if gotParams["handler_id"] != "h1" || gotParams["address"] != "127.0.0.1:5000" {
		t.Errorf("unexpected params: %v", gotParams)
	}
}

func TestRegister_RejectedByServer_ReturnsError(t *testing.T) {
	caller := func(string, transport.Envelope) (transport.Envelope, error) {
		return transport.Envelope{Status: transport.StatusError, Error: "conflict"}, nil
	}
	rt := New("h1", "127.0.0.1:9999", nil, testLogger(), withCaller(caller))

	if err := rt.register("127.0.0.1:5000"); err == nil {
		t.Fatal("expected error from rejected registration")
	}
}

func TestHeartbeatLoop_ReregistersAfterThreeFailures(t *testing.T) {
	var heartbeats, registrations int64
	caller := func(_ string, req transport.Envelope) (transport.Envelope, error) {
		switch req.Method {
		case "heartbeat":
			atomic.AddInt64(&heartbeats, 1)
			return transport.Envelope{}, errors.New("connection refused")
		case "register":
			atomic.AddInt64(&registrations, 1)
			return transport.Envelope{Status: transport.StatusOK}, nil
		}
		return transport.Envelope{}, errors.New("unexpected method")
	}

	rt := New("h1", "127.0.0.1:9999", nil, testLogger(), WithConfig(Config{HeartbeatInterval: 5 * time.Millisecond}), withCaller(caller))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	rt.heartbeatLoop(ctx, "127.0.0.1:5000")

	if atomic.LoadInt64(&heartbeats) < 3 {
		t.Fatalf("expected at least 3 heartbeat attempts, got %d", heartbeats)
	}
	if atomic.LoadInt64(&registrations) < 1 {
		t.Fatalf("expected at least one re-registration, got %d", registrations)
	}
}
