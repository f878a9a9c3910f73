package dispatcher_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/schedulezero/schedulezero/internal/dispatcher"
	"github.com/schedulezero/schedulezero/internal/domain"
	"github.com/schedulezero/schedulezero/internal/transport"
)

type fakeHandlers struct {
	entry *domain.Handler
}

func (f *fakeHandlers) Lookup(_ context.Context, handlerID string) (*domain.Handler, error) {
	if f.entry == nil || f.entry.ID != handlerID {
		return nil, domain.ErrHandlerUnknown
	}
	cp := *f.entry
	return &cp, nil
}

type fakeSchedules struct {
	mu      sync.Mutex
	removed map[string]bool
}

func newFakeSchedules() *fakeSchedules { return &fakeSchedules{removed: map[string]bool{}} }

func (f *fakeSchedules) Get(_ context.Context, id string) (*domain.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removed[id] {
		return nil, domain.ErrScheduleNotFound
	}
	return &domain.Schedule{ID: id}, nil
}

func (f *fakeSchedules) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed[id] = true
}

type fakeLog struct {
	mu      sync.Mutex
	started int
	terminal []struct {
		status  domain.ExecutionStatus
		isFinal bool
	}
}

func (f *fakeLog) RecordStart(firingID, scheduleID, handlerID, method string, attempt int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return "rec"
}

func (f *fakeLog) RecordTerminal(recordID string, status domain.ExecutionStatus, result any, errMsg string, isFinal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminal = append(f.terminal, struct {
		status  domain.ExecutionStatus
		isFinal bool
	}{status, isFinal})
	return nil
}

type fakePub struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakePub) Publish(topic string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
}

func newDispatcher(handlers *fakeHandlers, schedules *fakeSchedules, log *fakeLog, pub *fakePub, call dispatcher.Caller) *Dispatcherish {
	d := dispatcher.New(handlers, schedules, log, pub, call, dispatcher.Config{PerAttemptTimeout: time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &Dispatcherish{d}
}

// Dispatcherish exists only so tests can wait on a result without the
// dispatcher package exposing internal synchronization to production code.
type Dispatcherish struct {
	*dispatcher.Dispatcher
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatch_SuccessPublishesJobExecuted(t *testing.T) {
	handlers := &fakeHandlers{entry: &domain.Handler{ID: "h1", Address: "addr", Methods: domain.MethodSet([]string{"echo"}), Status: domain.HandlerConnected}}
	schedules := newFakeSchedules()
	log := &fakeLog{}
	pub := &fakePub{}
	call := func(addr string, req transport.Envelope) (transport.Envelope, error) {
		return transport.Envelope{Status: transport.StatusOK, Result: "done"}, nil
	}

	d := newDispatcher(handlers, schedules, log, pub, call)
	d.Submit(context.Background(), domain.Firing{FiringID: "f1", ScheduleID: "s1", HandlerID: "h1", Method: "echo"}, 3)

	waitFor(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return len(log.terminal) == 1
	})

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.topics) != 1 || pub.topics[0] != "job.executed" {
		t.Fatalf("topics = %v, want [job.executed]", pub.topics)
	}
}

func TestDispatch_MethodUnknownIsNonRetryableAndTerminal(t *testing.T) {
	handlers := &fakeHandlers{entry: &domain.Handler{ID: "h1", Address: "addr", Methods: domain.MethodSet([]string{"other"}), Status: domain.HandlerConnected}}
	schedules := newFakeSchedules()
	log := &fakeLog{}
	pub := &fakePub{}
	call := func(addr string, req transport.Envelope) (transport.Envelope, error) {
		t.Fatal("call should never happen for an unknown method")
		return transport.Envelope{}, nil
	}

	d := newDispatcher(handlers, schedules, log, pub, call)
	d.Submit(context.Background(), domain.Firing{FiringID: "f1", ScheduleID: "s1", HandlerID: "h1", Method: "echo"}, 3)

	waitFor(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return len(log.terminal) == 1
	})

	log.mu.Lock()
	defer log.mu.Unlock()
	if !log.terminal[0].isFinal || log.terminal[0].status != domain.ExecError {
		t.Fatalf("unexpected terminal record: %+v", log.terminal[0])
	}
}

func TestDispatch_RetriesThenExhausts(t *testing.T) {
	handlers := &fakeHandlers{entry: &domain.Handler{ID: "h1", Address: "addr", Methods: domain.MethodSet([]string{"echo"}), Status: domain.HandlerConnected}}
	schedules := newFakeSchedules()
	log := &fakeLog{}
	pub := &fakePub{}
	call := func(addr string, req transport.Envelope) (transport.Envelope, error) {
		return transport.Envelope{}, errors.New("connection refused")
	}

	d := newDispatcher(handlers, schedules, log, pub, call)
	d.Submit(context.Background(), domain.Firing{FiringID: "f1", ScheduleID: "s1", HandlerID: "h1", Method: "echo"}, 2)

	waitFor(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return len(log.terminal) == 2
	})

	log.mu.Lock()
	defer log.mu.Unlock()
	if log.terminal[0].isFinal {
		t.Fatalf("first attempt should not be final: %+v", log.terminal[0])
	}
	if !log.terminal[1].isFinal {
		t.Fatalf("second (last) attempt should be final: %+v", log.terminal[1])
	}
}

func TestDispatch_SuppressesAttemptAfterScheduleRemoved(t *testing.T) {
	handlers := &fakeHandlers{entry: &domain.Handler{ID: "h1", Address: "addr", Methods: domain.MethodSet([]string{"echo"}), Status: domain.HandlerConnected}}
	schedules := newFakeSchedules()
	schedules.remove("s1")
	log := &fakeLog{}
	pub := &fakePub{}
	call := func(addr string, req transport.Envelope) (transport.Envelope, error) {
		t.Fatal("call should never happen once the schedule is removed")
		return transport.Envelope{}, nil
	}

	d := newDispatcher(handlers, schedules, log, pub, call)
	d.Submit(context.Background(), domain.Firing{FiringID: "f1", ScheduleID: "s1", HandlerID: "h1", Method: "echo"}, 3)

	time.Sleep(100 * time.Millisecond)

	log.mu.Lock()
	defer log.mu.Unlock()
	if log.started != 0 {
		t.Fatalf("expected no records written for a removed schedule, got %d", log.started)
	}
}

func TestDispatch_RetryableHandlerErrorIsRetried(t *testing.T) {
	handlers := &fakeHandlers{entry: &domain.Handler{ID: "h1", Address: "addr", Methods: domain.MethodSet([]string{"echo"}), Status: domain.HandlerConnected}}
	schedules := newFakeSchedules()
	log := &fakeLog{}
	pub := &fakePub{}
	call := func(addr string, req transport.Envelope) (transport.Envelope, error) {
		return transport.Envelope{Status: transport.StatusError, Error: "try again", Retryable: true}, nil
	}

	d := newDispatcher(handlers, schedules, log, pub, call)
	d.Submit(context.Background(), domain.Firing{FiringID: "f1", ScheduleID: "s1", HandlerID: "h1", Method: "echo"}, 3)

	waitFor(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return len(log.terminal) == 3
	})

	log.mu.Lock()
	defer log.mu.Unlock()
	if log.terminal[0].isFinal || log.terminal[1].isFinal {
		t.Fatalf("retryable handler errors should not finalize before max_attempts: %+v", log.terminal)
	}
	if !log.terminal[2].isFinal {
		t.Fatalf("last attempt should be final: %+v", log.terminal[2])
	}
}

func TestDispatch_NonRetryableHandlerErrorIsTerminalImmediately(t *testing.T) {
	handlers := &fakeHandlers{entry: &domain.Handler{ID: "h1", Address: "addr", Methods: domain.MethodSet([]string{"echo"}), Status: domain.HandlerConnected}}
	schedules := newFakeSchedules()
	log := &fakeLog{}
	pub := &fakePub{}
	call := func(addr string, req transport.Envelope) (transport.Envelope, error) {
		return transport.Envelope{Status: transport.StatusError, Error: "bad params", Retryable: false}, nil
	}

	d := newDispatcher(handlers, schedules, log, pub, call)
	d.Submit(context.Background(), domain.Firing{FiringID: "f1", ScheduleID: "s1", HandlerID: "h1", Method: "echo"}, 3)

	waitFor(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return len(log.terminal) == 1
	})

	log.mu.Lock()
	defer log.mu.Unlock()
	if !log.terminal[0].isFinal {
		t.Fatalf("a non-retryable handler error should finalize on the first attempt: %+v", log.terminal[0])
	}
}
