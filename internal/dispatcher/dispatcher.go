// Package dispatcher is the Dispatcher & Retry component: it takes a
// firing, resolves the target handler, performs the remote call over the
// transport, retries with backoff, and drives the firing to a terminal
// execution record.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/schedulezero/schedulezero/internal/domain"
	"github.com/schedulezero/schedulezero/internal/transport"
)

// HandlerLookup is the subset of the Handler Registry the dispatcher
// needs. Defined here, not imported from internal/registry, so the
// dispatcher can be tested against a fake without pulling in the registry
// package's snapshot/publisher wiring — the same narrow-interface shape
// the teacher uses for its repository dependencies.
type HandlerLookup interface {
	Lookup(ctx context.Context, handlerID string) (*domain.Handler, error)
}

// ScheduleChecker lets the dispatcher detect that a schedule was removed
// out from under an in-flight firing.
type ScheduleChecker interface {
	Get(ctx context.Context, id string) (*domain.Schedule, error)
}

// Publisher is the event-bus subset used to fan out job.executed/job.failed.
type Publisher interface {
	Publish(topic string, payload any)
}

// ExecLog is the subset of the Execution Log the dispatcher writes to.
type ExecLog interface {
	RecordStart(firingID, scheduleID, handlerID, method string, attempt int) string
	RecordTerminal(recordID string, status domain.ExecutionStatus, result any, errMsg string, isFinal bool) error
}

// Caller performs one request/reply call; production code wires this to
// transport.Call, tests supply a fake.
type Caller func(addr string, req transport.Envelope) (transport.Envelope, error)

// Config bounds dispatcher concurrency and per-attempt timeouts, with the
// defaults from spec.md 5.
type Config struct {
	GlobalConcurrency     int
	PerHandlerConcurrency int
	PerAttemptTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.GlobalConcurrency <= 0 {
		c.GlobalConcurrency = 32
	}
	if c.PerHandlerConcurrency <= 0 {
		c.PerHandlerConcurrency = 4
	}
	if c.PerAttemptTimeout <= 0 {
		c.PerAttemptTimeout = 30 * time.Second
	}
	return c
}

// Dispatcher owns the bounded global pool and per-handler concurrency
// limiters; Submit blocks until a global slot is free, which is how the
// scheduler loop's claim step is naturally throttled when the pool
// saturates (spec.md 4.F).
type Dispatcher struct {
	handlers  HandlerLookup
	schedules ScheduleChecker
	log       ExecLog
	pub       Publisher
	call      Caller
	cfg       Config
	logger    *slog.Logger

	global chan struct{}

	mu          sync.Mutex
	handlerSems map[string]chan struct{}
}

func New(handlers HandlerLookup, schedules ScheduleChecker, log ExecLog, pub Publisher, call Caller, cfg Config, logger *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		handlers:    handlers,
		schedules:   schedules,
		log:         log,
		pub:         pub,
		call:        call,
		cfg:         cfg,
		logger:      logger.With("component", "dispatcher"),
		global:      make(chan struct{}, cfg.GlobalConcurrency),
		handlerSems: make(map[string]chan struct{}),
	}
}

func (d *Dispatcher) handlerSem(handlerID string) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	sem, ok := d.handlerSems[handlerID]
	if !ok {
		sem = make(chan struct{}, d.cfg.PerHandlerConcurrency)
		d.handlerSems[handlerID] = sem
	}
	return sem
}

// Submit blocks until a global worker slot is available, then runs the
// firing's full attempt loop in a new goroutine and returns. Blocking here
// (rather than inside the goroutine) is what makes a saturated pool stop
// the scheduler loop from claiming further firings within the same tick.
func (d *Dispatcher) Submit(ctx context.Context, firing domain.Firing, maxAttempts int) {
	d.global <- struct{}{}
	go func() {
		defer func() { <-d.global }()
		d.runAttempts(ctx, firing, maxAttempts)
	}()
}

func (d *Dispatcher) runAttempts(ctx context.Context, firing domain.Firing, maxAttempts int) {
	attempt := firing.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	for {
		// A run_now firing carries no schedule_id — it is not governed by
		// the store at all, so there is nothing to check for removal.
		if firing.ScheduleID != "" {
			if _, err := d.schedules.Get(ctx, firing.ScheduleID); errors.Is(err, domain.ErrScheduleNotFound) {
				d.logger.Info("suppressing attempt for removed schedule", "schedule_id", firing.ScheduleID, "firing_id", firing.FiringID)
				return
			}
		}

		recordID := d.log.RecordStart(firing.FiringID, firing.ScheduleID, firing.HandlerID, firing.Method, attempt)

		outcome := d.attempt(ctx, firing, attempt)

		isFinal := !outcome.retryable || attempt >= maxAttempts
		if err := d.log.RecordTerminal(recordID, outcome.status, outcome.result, outcome.errMsg, isFinal); err != nil {
			d.logger.Warn("record terminal failed", "error", err, "record_id", recordID)
		}

		if outcome.status == domain.ExecSuccess {
			d.pub.Publish("job.executed", map[string]any{"firing_id": firing.FiringID, "schedule_id": firing.ScheduleID})
			return
		}
		if !outcome.retryable {
			d.pub.Publish("job.failed", map[string]any{"firing_id": firing.FiringID, "schedule_id": firing.ScheduleID, "final": true})
			return
		}
		if attempt >= maxAttempts {
			d.pub.Publish("job.failed", map[string]any{"firing_id": firing.FiringID, "schedule_id": firing.ScheduleID, "final": true})
			return
		}

		delay := backoffDelay(attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		attempt++
	}
}

// FailureClass enumerates the classifications spec.md 4.F names.
type FailureClass string

const (
	ClassHandlerUnknown FailureClass = "HandlerUnknown"
	ClassMethodUnknown  FailureClass = "MethodUnknown"
	ClassTimeout        FailureClass = "Timeout"
	ClassTransport      FailureClass = "Transport"
	ClassHandlerError   FailureClass = "HandlerError"
	ClassInternal       FailureClass = "Internal"
)

type attemptOutcome struct {
	status    domain.ExecutionStatus
	result    any
	errMsg    string
	retryable bool
	class     FailureClass
}

func (d *Dispatcher) attempt(ctx context.Context, firing domain.Firing, attemptNum int) attemptOutcome {
	entry, err := d.handlers.Lookup(ctx, firing.HandlerID)
	if err != nil || entry.Status == domain.HandlerUnreachable {
		return attemptOutcome{
			status: domain.ExecError, retryable: true, class: ClassHandlerUnknown,
			errMsg: fmt.Sprintf("handler %q unavailable", firing.HandlerID),
		}
	}
	if !entry.HasMethod(firing.Method) {
		return attemptOutcome{
			status: domain.ExecError, retryable: false, class: ClassMethodUnknown,
			errMsg: fmt.Sprintf("method %q not advertised by handler %q", firing.Method, firing.HandlerID),
		}
	}

	sem := d.handlerSem(firing.HandlerID)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return attemptOutcome{status: domain.ExecError, retryable: true, class: ClassInternal, errMsg: ctx.Err().Error()}
	}
	defer func() { <-sem }()

	req := transport.Envelope{
		V: transport.EnvelopeVersion, Op: transport.OpCall,
		FiringID: firing.FiringID, Method: firing.Method, Params: firing.Params,
		DeadlineMS: d.cfg.PerAttemptTimeout.Milliseconds(),
	}

	reply, err := d.call(entry.Address, req)
	if err != nil {
		return attemptOutcome{
			status: domain.ExecError, retryable: true, class: ClassTransport, errMsg: err.Error(),
		}
	}

	if reply.Status == transport.StatusOK {
		return attemptOutcome{status: domain.ExecSuccess, result: reply.Result}
	}

	return attemptOutcome{
		status: domain.ExecError, retryable: reply.Retryable, class: ClassHandlerError, errMsg: reply.Error,
	}
}
