package trigger

import (
	"fmt"
	"time"

	"github.com/schedulezero/schedulezero/internal/domain"
)

// dateTrigger fires exactly once, at RunAt.
type dateTrigger struct {
	runAt time.Time
}

func newDateTrigger(cfg domain.TriggerConfig) (Trigger, error) {
	if cfg.RunDate.IsZero() {
		return nil, fmt.Errorf("%w: date trigger requires run_date", domain.ErrInvalidTrigger)
	}
	return &dateTrigger{runAt: cfg.RunDate}, nil
}

func (d *dateTrigger) NextAfter(t time.Time) (time.Time, bool) {
	if d.runAt.After(t) {
		return d.runAt, true
	}
	return time.Time{}, false
}
