// Package store defines the Schedule Store contract: durable authoritative
// state for schedules, plus the atomic claim primitive that serializes
// dispatch ownership of one (schedule_id, scheduled_at) pair across
// scheduler instances. Implementations live in sub-packages (memstore for
// tests and single-process use, postgres for the durable deployment).
package store

import (
	"context"
	"time"

	"github.com/schedulezero/schedulezero/internal/domain"
)

// ClaimResult is the outcome of an atomic Claim call.
type ClaimResult struct {
	// Claimed is true when the caller now owns (schedule_id, scheduled_at).
	Claimed bool
	// Finished is true when the claimed schedule has no further fires
	// (a date trigger that just fired).
	Finished bool
}

// Store is the durable authoritative state for schedules and the
// concurrency primitive dispatch relies on. Every method is safe to call
// concurrently from multiple goroutines and, for the postgres
// implementation, multiple processes.
type Store interface {
	// Add persists a schedule and computes its first next-fire instant.
	// Returns domain.ErrInvalidTrigger or domain.ErrDuplicate.
	Add(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error)

	// Remove is idempotent; it never returns domain.ErrScheduleNotFound
	// unless strict is true.
	Remove(ctx context.Context, id string, strict bool) error

	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error

	Get(ctx context.Context, id string) (*domain.Schedule, error)
	List(ctx context.Context, filter domain.ScheduleFilter) ([]*domain.Schedule, error)

	// DueBefore returns unpaused schedules with next_fire <= t.
	DueBefore(ctx context.Context, t time.Time) ([]*domain.Schedule, error)

	// Claim is the atomic primitive described in spec.md 4.A: it succeeds
	// only if the stored next_fire still equals scheduledAt and no
	// unexpired claim exists for the pair. On success it advances
	// next_fire to the trigger's following instant (or marks the
	// schedule finished for a one-shot date trigger) before returning,
	// so a crash after a successful claim never re-fires the same instant.
	Claim(ctx context.Context, scheduleID string, scheduledAt time.Time, claimantID string, claimTTL time.Duration) (ClaimResult, error)

	// Release clears an unexpired claim still owned by claimantID. Used
	// only when a claimant abandons a firing before dispatch.
	Release(ctx context.Context, scheduleID string, scheduledAt time.Time, claimantID string) error

	// EarliestNextFire returns the soonest next_fire among unpaused,
	// unfinished schedules, or ok=false if there are none.
	EarliestNextFire(ctx context.Context) (t time.Time, ok bool, err error)
}
