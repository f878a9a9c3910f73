package trigger

import (
	"fmt"
	"time"

	"github.com/schedulezero/schedulezero/internal/domain"
)

// intervalTrigger fires every period starting at start, optionally bounded
// by end. next_after(t) is start when t is before start, and otherwise
// start + (floor((t-start)/period)+1)*period, the first fire strictly
// after t, so a period finer than the caller's poll cadence still yields
// one distinct fire per period rather than coalescing.
type intervalTrigger struct {
	start  time.Time
	period time.Duration
	end    *time.Time
}

func newIntervalTrigger(cfg domain.TriggerConfig) (Trigger, error) {
	period := time.Duration(cfg.Hours)*time.Hour +
		time.Duration(cfg.Minutes)*time.Minute +
		time.Duration(cfg.Seconds)*time.Second

	if period < time.Millisecond {
		return nil, fmt.Errorf("%w: interval trigger period must be >= 1ms", domain.ErrInvalidTrigger)
	}

	start := time.Now()
	if cfg.Start != nil {
		start = *cfg.Start
	}

	return &intervalTrigger{start: start, period: period, end: cfg.End}, nil
}

func (iv *intervalTrigger) NextAfter(t time.Time) (time.Time, bool) {
	var next time.Time
	if t.Before(iv.start) {
		next = iv.start
	} else {
		elapsed := t.Sub(iv.start)
		steps := elapsed/iv.period + 1
		next = iv.start.Add(steps * iv.period)
	}

	if iv.end != nil && next.After(*iv.end) {
		return time.Time{}, false
	}
	return next, true
}
