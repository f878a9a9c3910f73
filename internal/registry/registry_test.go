package registry_test

import (
	"context"
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/schedulezero/schedulezero/internal/domain"
	"github.com/schedulezero/schedulezero/internal/registry"
)

func newTestRegistry() *registry.Registry {
	return registry.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegister_FirstThenReplace(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	res, err := r.Register(ctx, "h1", "127.0.0.1:9000", []string{"echo"}, false)
	if err != nil || !res.Accepted || res.Replaced {
		t.Fatalf("first register: %+v, %v", res, err)
	}

	h, err := r.Lookup(ctx, "h1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !h.HasMethod("echo") {
		t.Fatalf("expected echo method")
	}
}

func TestRegister_ConflictWithoutForce(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	if _, err := r.Register(ctx, "h1", "127.0.0.1:9000", []string{"echo"}, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Heartbeat(ctx, "h1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	_, err := r.Register(ctx, "h1", "127.0.0.1:9001", []string{"echo"}, false)
	if err != domain.ErrConflict {
		t.Fatalf("got %v, want ErrConflict", err)
	}

	res, err := r.Register(ctx, "h1", "127.0.0.1:9001", []string{"echo"}, true)
	if err != nil || !res.Replaced {
		t.Fatalf("forced register: %+v, %v", res, err)
	}
}

func TestHeartbeat_UnknownHandler(t *testing.T) {
	r := newTestRegistry()
	if err := r.Heartbeat(context.Background(), "ghost"); err != domain.ErrHandlerUnknown {
		t.Fatalf("got %v, want ErrHandlerUnknown", err)
	}
}

func TestSweep_MarksUnreachable(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	if _, err := r.Register(ctx, "h1", "127.0.0.1:9000", nil, false); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Sweep(time.Now().Add(time.Hour), 15*time.Second)

	h, err := r.Lookup(ctx, "h1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if h.Status != domain.HandlerUnreachable {
		t.Fatalf("status = %v, want unreachable", h.Status)
	}
}

func TestUnregister_RemovesEntry(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	if _, err := r.Register(ctx, "h1", "addr", nil, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Unregister(ctx, "h1"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, err := r.Lookup(ctx, "h1"); err != domain.ErrHandlerUnknown {
		t.Fatalf("got %v, want ErrHandlerUnknown", err)
	}
	if err := r.Unregister(ctx, "h1"); err != domain.ErrHandlerUnknown {
		t.Fatalf("double unregister should report ErrHandlerUnknown, got %v", err)
	}
}

func TestList_ReturnsCopies(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	if _, err := r.Register(ctx, "h1", "addr", []string{"m"}, false); err != nil {
		t.Fatalf("register: %v", err)
	}

	list := r.List(ctx)
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}
	list[0].Address = "mutated"

	h, err := r.Lookup(ctx, "h1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if h.Address == "mutated" {
		t.Fatalf("List leaked a pointer into registry state")
	}
}
