package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/schedulezero/schedulezero/internal/domain"
	"github.com/schedulezero/schedulezero/internal/store/memstore"
)

func addSchedule(t *testing.T, s *memstore.Store, id string, start time.Time) *domain.Schedule {
	t.Helper()
	sch := &domain.Schedule{
		ID:        id,
		HandlerID: "h1",
		Method:    "echo",
		Trigger: domain.TriggerConfig{
			Kind:    domain.TriggerInterval,
			Seconds: 1,
			Start:   &start,
		},
	}
	out, err := s.Add(context.Background(), sch)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return out
}

func TestAdd_DuplicateRejected(t *testing.T) {
	s := memstore.New(nil)
	start := time.Now().Add(time.Hour)
	addSchedule(t, s, "s1", start)

	_, err := s.Add(context.Background(), &domain.Schedule{
		ID:        "s1",
		HandlerID: "h1",
		Method:    "echo",
		Trigger:   domain.TriggerConfig{Kind: domain.TriggerInterval, Seconds: 1, Start: &start},
	})
	if err != domain.ErrDuplicate {
		t.Fatalf("got %v, want ErrDuplicate", err)
	}
}

func TestClaim_OnlyOneWinner(t *testing.T) {
	s := memstore.New(nil)
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	sch := addSchedule(t, s, "s1", start)

	ctx := context.Background()
	res1, err := s.Claim(ctx, sch.ID, sch.NextFire, "owner-a", time.Minute)
	if err != nil || !res1.Claimed {
		t.Fatalf("first claim: %+v, %v", res1, err)
	}

	res2, err := s.Claim(ctx, sch.ID, sch.NextFire, "owner-b", time.Minute)
	if err != nil || res2.Claimed {
		t.Fatalf("second claim should fail: %+v, %v", res2, err)
	}

	got, err := s.Get(ctx, sch.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.NextFire.After(sch.NextFire) {
		t.Fatalf("next_fire did not advance: %v -> %v", sch.NextFire, got.NextFire)
	}
}

func TestClaim_StaleInstantNotReclaimableAfterExpiredClaim(t *testing.T) {
	s := memstore.New(nil)
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	sch := addSchedule(t, s, "s1", start)

	ctx := context.Background()
	if _, err := s.Claim(ctx, sch.ID, sch.NextFire, "owner-a", -time.Second); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	res, err := s.Claim(ctx, sch.ID, sch.NextFire, "owner-b", time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if res.Claimed {
		t.Fatalf("claim on already-advanced next_fire should not succeed: %+v", res)
	}
}

func TestDueBefore_OrderedByScheduledAtThenID(t *testing.T) {
	s := memstore.New(nil)
	t0 := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	addSchedule(t, s, "b", t0)
	addSchedule(t, s, "a", t0)

	due, err := s.DueBefore(context.Background(), t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("DueBefore: %v", err)
	}
	if len(due) != 2 || due[0].ID != "a" || due[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", due)
	}
}

func TestPauseExcludesFromDueAndEarliest(t *testing.T) {
	s := memstore.New(nil)
	t0 := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	sch := addSchedule(t, s, "s1", t0)

	ctx := context.Background()
	if err := s.Pause(ctx, sch.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	due, err := s.DueBefore(ctx, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("DueBefore: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("paused schedule should not be due: %+v", due)
	}

	if _, ok, err := s.EarliestNextFire(ctx); err != nil || ok {
		t.Fatalf("EarliestNextFire should be empty while paused: ok=%v err=%v", ok, err)
	}
}

func TestRemove_StrictVsIdempotent(t *testing.T) {
	s := memstore.New(nil)
	ctx := context.Background()

	if err := s.Remove(ctx, "missing", false); err != nil {
		t.Fatalf("non-strict remove of missing id should be nil: %v", err)
	}
	if err := s.Remove(ctx, "missing", true); err != domain.ErrScheduleNotFound {
		t.Fatalf("strict remove of missing id: %v", err)
	}
}

func TestDateTriggerFinishesAfterClaim(t *testing.T) {
	s := memstore.New(nil)
	runAt := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	sch, err := s.Add(context.Background(), &domain.Schedule{
		ID:        "once",
		HandlerID: "h1",
		Method:    "echo",
		Trigger:   domain.TriggerConfig{Kind: domain.TriggerDate, RunDate: runAt},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	res, err := s.Claim(context.Background(), sch.ID, sch.NextFire, "owner-a", time.Minute)
	if err != nil || !res.Claimed || !res.Finished {
		t.Fatalf("expected claimed+finished, got %+v, %v", res, err)
	}
}

func TestEarliestNextFire_TracksMinimum(t *testing.T) {
	s := memstore.New(nil)
	t0 := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	later := t0.Add(time.Hour)

	addSchedule(t, s, "later", later)
	earlySchedule := addSchedule(t, s, "earlier", t0)

	earliest, ok, err := s.EarliestNextFire(context.Background())
	if err != nil || !ok {
		t.Fatalf("EarliestNextFire: ok=%v err=%v", ok, err)
	}
	if !earliest.Equal(earlySchedule.NextFire) {
		t.Fatalf("earliest = %v, want %v", earliest, earlySchedule.NextFire)
	}
}
