// Package trigger computes next-fire instants for the three trigger kinds
// a schedule can carry. NextAfter is a pure function of the instant it is
// given, with no I/O and no wall-clock reads; the only clock read is at
// construction, where an interval trigger without a start is anchored at
// the current time.
package trigger

import (
	"fmt"
	"time"

	"github.com/schedulezero/schedulezero/internal/domain"
)

// Trigger yields the next fire instant strictly after a reference instant,
// or the zero time with ok=false if it never fires again.
type Trigger interface {
	NextAfter(t time.Time) (next time.Time, ok bool)
}

// New builds the Trigger described by cfg. It returns domain.ErrInvalidTrigger
// for a malformed configuration or one that can never fire in the future.
func New(cfg domain.TriggerConfig) (Trigger, error) {
	switch cfg.Kind {
	case domain.TriggerDate:
		return newDateTrigger(cfg)
	case domain.TriggerInterval:
		return newIntervalTrigger(cfg)
	case domain.TriggerCron:
		return newCronTrigger(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown trigger kind %q", domain.ErrInvalidTrigger, cfg.Kind)
	}
}
