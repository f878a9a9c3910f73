// Package schedulerloop is the Scheduler Loop (component C): a single
// cooperative goroutine per instance that sleeps until the earliest known
// next-fire instant, claims due schedules, and hands each claimed firing
// to the dispatcher. It never performs I/O with handlers directly.
package schedulerloop

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/schedulezero/schedulezero/internal/domain"
	"github.com/schedulezero/schedulezero/internal/store"
)

// Store is the subset of store.Store the loop drives.
type Store interface {
	DueBefore(ctx context.Context, t time.Time) ([]*domain.Schedule, error)
	Claim(ctx context.Context, scheduleID string, scheduledAt time.Time, claimantID string, claimTTL time.Duration) (store.ClaimResult, error)
	EarliestNextFire(ctx context.Context) (time.Time, bool, error)
}

// HandlerLookup validates a run_now target before it is dispatched, so
// the control plane can answer synchronously with HandlerUnknown or
// MethodUnknown rather than discovering the failure later in the log.
type HandlerLookup interface {
	Lookup(ctx context.Context, handlerID string) (*domain.Handler, error)
}

// Submitter is the dispatcher's entry point, narrowed to what the loop needs.
type Submitter interface {
	Submit(ctx context.Context, firing domain.Firing, maxAttempts int)
}

// Config holds the loop's tunables; zero values take spec.md's defaults.
type Config struct {
	ClaimTTL      time.Duration
	MaxIdle       time.Duration
	RunNowAttempts int
}

func (c Config) withDefaults() Config {
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 30 * time.Second
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 30 * time.Second
	}
	if c.RunNowAttempts <= 0 {
		c.RunNowAttempts = 3
	}
	return c
}

// Loop is one scheduler instance's cooperative dispatch loop.
type Loop struct {
	store      Store
	handlers   HandlerLookup
	dispatcher Submitter
	selfID     string
	cfg        Config
	logger     *slog.Logger

	wake chan struct{}

	// isLeader is nil for single-instance deployments (always claims) or
	// wired to eventbus.Bus.IsLeader when the event bus is enabled.
	isLeader func() bool

	// externalChanges is the event bus's schedule-change notification
	// channel; nil when the event bus is disabled.
	externalChanges <-chan struct{}
}

type Option func(*Loop)

func WithLeaderCheck(isLeader func() bool) Option { return func(l *Loop) { l.isLeader = isLeader } }
func WithExternalChanges(ch <-chan struct{}) Option {
	return func(l *Loop) { l.externalChanges = ch }
}

func New(st Store, handlers HandlerLookup, disp Submitter, selfID string, cfg Config, logger *slog.Logger, opts ...Option) *Loop {
	l := &Loop{
		store:      st,
		handlers:   handlers,
		dispatcher: disp,
		selfID:     selfID,
		cfg:        cfg.withDefaults(),
		logger:     logger.With("component", "scheduler_loop"),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Notify wakes the loop early; the store's onChange callback and API
// mutations (add/remove) call this so a newly-added schedule
// doesn't wait out a stale sleep.
func (l *Loop) Notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drives the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	storeUnavailableAttempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		tNext, ok, err := l.store.EarliestNextFire(ctx)
		if err != nil {
			storeUnavailableAttempt++
			if !l.sleepOrDone(ctx, storeBackoff(storeUnavailableAttempt)) {
				return
			}
			continue
		}
		storeUnavailableAttempt = 0

		sleepFor := l.cfg.MaxIdle
		if ok {
			if until := time.Until(tNext); until < sleepFor {
				sleepFor = until
			}
		}
		if sleepFor < 0 {
			sleepFor = 0
		}

		if !l.sleepOrDone(ctx, sleepFor) {
			return
		}

		if l.isLeader != nil && !l.isLeader() {
			continue
		}

		l.tick(ctx)
	}
}

// sleepOrDone blocks for d or until woken by Notify/externalChanges/ctx
// cancellation. It returns false only when ctx is done.
func (l *Loop) sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-l.wake:
		return true
	case <-l.externalChangesOrNil():
		return true
	}
}

func (l *Loop) externalChangesOrNil() <-chan struct{} {
	if l.externalChanges == nil {
		return nil
	}
	return l.externalChanges
}

// tick claims and dispatches every due schedule, in (scheduled_at, id)
// order as returned by the store. The loop itself stays single-threaded;
// Submit may block on the dispatcher's global pool, which is exactly how
// a saturated pool pauses further claims within this tick.
func (l *Loop) tick(ctx context.Context) {
	due, err := l.store.DueBefore(ctx, time.Now())
	if err != nil {
		l.logger.Error("due_before failed", "error", err)
		return
	}

	for _, sch := range due {
		res, err := l.store.Claim(ctx, sch.ID, sch.NextFire, l.selfID, l.cfg.ClaimTTL)
		if err != nil {
			l.logger.Error("claim failed", "schedule_id", sch.ID, "error", err)
			continue
		}
		if !res.Claimed {
			continue
		}

		if sch.Misfire == domain.MisfireSkipIfLate {
			late := time.Since(sch.NextFire)
			if late > time.Duration(sch.GraceSec)*time.Second {
				l.logger.Info("misfire skip_if_late: skipping stale firing",
					"schedule_id", sch.ID, "late_by", late)
				continue
			}
		}

		firing := domain.Firing{
			FiringID:    uuid.NewString(),
			ScheduleID:  sch.ID,
			HandlerID:   sch.HandlerID,
			Method:      sch.Method,
			Params:      sch.Params,
			Attempt:     1,
			ScheduledAt: sch.NextFire,
		}
		l.dispatcher.Submit(ctx, firing, sch.MaxAttempts)
	}
}

// RunNowResult is returned to the control plane adapter.
type RunNowResult struct {
	FiringID string
}

var (
	// ErrHandlerUnknown/ErrMethodUnknown are re-exported from domain for
	// callers that only import this package.
	ErrHandlerUnknown = domain.ErrHandlerUnknown
	ErrMethodUnknown  = domain.ErrMethodUnknown
)

// RunNow dispatches a one-off call outside the schedule store entirely,
// with its own independent attempt budget — a manual run_now retry storm
// can never exhaust a schedule's regular max_attempts.
func (l *Loop) RunNow(ctx context.Context, handlerID, method string, params map[string]any) (RunNowResult, error) {
	entry, err := l.handlers.Lookup(ctx, handlerID)
	if err != nil {
		if errors.Is(err, domain.ErrHandlerUnknown) {
			return RunNowResult{}, domain.ErrHandlerUnknown
		}
		return RunNowResult{}, err
	}
	if !entry.HasMethod(method) {
		return RunNowResult{}, domain.ErrMethodUnknown
	}

	firingID := uuid.NewString()
	firing := domain.Firing{
		FiringID:    firingID,
		ScheduleID:  "",
		HandlerID:   handlerID,
		Method:      method,
		Params:      params,
		Attempt:     1,
		ScheduledAt: time.Now(),
	}
	l.dispatcher.Submit(ctx, firing, l.cfg.RunNowAttempts)
	return RunNowResult{FiringID: firingID}, nil
}

// storeBackoff implements spec.md 4.A's StoreUnavailable recovery policy:
// jittered exponential delay, 50ms base, capped at 30s.
func storeBackoff(attempt int) time.Duration {
	base := 50 * time.Millisecond
	cap := 30 * time.Second
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if delay > cap {
		delay = cap
	}
	jitter := time.Duration(rand.Int63n(int64(delay/2 + 1)))
	return delay/2 + jitter
}
