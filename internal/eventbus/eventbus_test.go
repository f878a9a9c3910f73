package eventbus_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/schedulezero/schedulezero/internal/eventbus"
)

func newBus(t *testing.T, id string, pid int, peers []string) *eventbus.Bus {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := eventbus.New(id, pid, "127.0.0.1:0", peers, 30*time.Millisecond, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestTwoInstances_ElectSmallestPID(t *testing.T) {
	a := newBus(t, "inst-a", 200, nil)
	b := newBus(t, "inst-b", 100, []string{a.PublishEndpoint()})

	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelA()
	defer cancelB()

	go a.Run(ctxA)
	go b.Run(ctxB)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.IsLeader() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected inst-b (smaller pid) to become leader within the deadline")
}

func TestSingleInstance_IsAlwaysLeader(t *testing.T) {
	a := newBus(t, "solo", 1, nil)
	if !a.IsLeader() {
		t.Fatal("a lone instance must be its own leader")
	}
}
