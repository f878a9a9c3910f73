// Package memstore is an in-memory Store used by tests and by
// single-instance deployments that do not need cross-process durability.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/schedulezero/schedulezero/internal/domain"
	"github.com/schedulezero/schedulezero/internal/store"
	"github.com/schedulezero/schedulezero/internal/trigger"
)

type entry struct {
	schedule *domain.Schedule
	trig     trigger.Trigger
}

// Store is a single-mutex, map-backed implementation of store.Store.
type Store struct {
	mu        sync.Mutex
	schedules map[string]*entry
	onChange  func()
}

// New returns an empty Store. onChange, if non-nil, is called after Add,
// Resume and every successful Claim, while the store's lock is still held
// (a callback that calls back into the Store deadlocks); Remove and Pause
// do not call it. cmd/server wires it to the scheduler loop's Notify so the
// loop wakes early instead of waiting out its sleep.
func New(onChange func()) *Store {
	return &Store{schedules: make(map[string]*entry), onChange: onChange}
}

func (s *Store) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *Store) Add(_ context.Context, sch *domain.Schedule) (*domain.Schedule, error) {
	trig, err := trigger.New(sch.Trigger)
	if err != nil {
		return nil, err
	}

	sch.Normalize()
	next, ok := trig.NextAfter(time.Now())
	if !ok {
		return nil, domain.ErrInvalidTrigger
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[sch.ID]; exists {
		return nil, domain.ErrDuplicate
	}

	now := time.Now()
	sch.NextFire = next
	sch.CreatedAt = now
	sch.UpdatedAt = now

	cp := *sch
	s.schedules[sch.ID] = &entry{schedule: &cp, trig: trig}
	s.notify()

	out := cp
	return &out, nil
}

func (s *Store) Remove(_ context.Context, id string, strict bool) error {
	s.mu.Lock()
	_, exists := s.schedules[id]
	delete(s.schedules, id)
	s.mu.Unlock()

	if !exists && strict {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (s *Store) Pause(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.schedules[id]
	if !ok {
		return domain.ErrScheduleNotFound
	}
	e.schedule.Paused = true
	e.schedule.UpdatedAt = time.Now()
	return nil
}

func (s *Store) Resume(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.schedules[id]
	if !ok {
		return domain.ErrScheduleNotFound
	}
	e.schedule.Paused = false
	e.schedule.UpdatedAt = time.Now()
	s.notify()
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.schedules[id]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	out := *e.schedule
	return &out, nil
}

func (s *Store) List(_ context.Context, filter domain.ScheduleFilter) ([]*domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Schedule, 0, len(s.schedules))
	for _, e := range s.schedules {
		if filter.HandlerID != "" && e.schedule.HandlerID != filter.HandlerID {
			continue
		}
		if filter.OnlyPaused && !e.schedule.Paused {
			continue
		}
		if !filter.IncludePaused && !filter.OnlyPaused && e.schedule.Paused {
			continue
		}
		cp := *e.schedule
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DueBefore(_ context.Context, t time.Time) ([]*domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Schedule
	for _, e := range s.schedules {
		if e.schedule.Paused || e.schedule.Finished {
			continue
		}
		if !e.schedule.NextFire.After(t) {
			cp := *e.schedule
			out = append(out, &cp)
		}
	}
	// (scheduled_at, schedule_id) order, stable within one tick.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextFire.Equal(out[j].NextFire) {
			return out[i].NextFire.Before(out[j].NextFire)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) Claim(_ context.Context, scheduleID string, scheduledAt time.Time, claimantID string, claimTTL time.Duration) (store.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.schedules[scheduleID]
	if !ok {
		return store.ClaimResult{}, nil
	}
	sch := e.schedule

	if !sch.NextFire.Equal(scheduledAt) {
		return store.ClaimResult{}, nil
	}
	now := time.Now()
	if sch.ClaimDeadline != nil && sch.ClaimDeadline.After(now) {
		return store.ClaimResult{}, nil
	}

	deadline := now.Add(claimTTL)
	sch.ClaimOwner = claimantID
	sch.ClaimDeadline = &deadline
	sch.LastRunAt = &now

	next, fires := e.trig.NextAfter(scheduledAt)
	if !fires {
		sch.Finished = true
	} else {
		sch.NextFire = next
	}
	sch.UpdatedAt = now
	s.notify()

	return store.ClaimResult{Claimed: true, Finished: !fires}, nil
}

func (s *Store) Release(_ context.Context, scheduleID string, scheduledAt time.Time, claimantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.schedules[scheduleID]
	if !ok {
		return nil
	}
	if e.schedule.ClaimOwner == claimantID {
		e.schedule.ClaimOwner = ""
		e.schedule.ClaimDeadline = nil
	}
	return nil
}

func (s *Store) EarliestNextFire(_ context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest time.Time
	found := false
	for _, e := range s.schedules {
		if e.schedule.Paused || e.schedule.Finished {
			continue
		}
		if !found || e.schedule.NextFire.Before(earliest) {
			earliest = e.schedule.NextFire
			found = true
		}
	}
	return earliest, found, nil
}
