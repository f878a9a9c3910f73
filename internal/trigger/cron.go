package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/schedulezero/schedulezero/internal/domain"
)

// cronTrigger wraps a robfig/cron/v3 standard (5-field, no seconds)
// schedule. robfig's SpecSchedule already applies OR semantics between
// day-of-month and day-of-week when both are restricted, which is the
// behavior spec.md mandates, and Next evaluates using the time.Location of
// the instant it is given — which is how per-schedule time zones are
// implemented here: the reference instant is converted into loc before
// calling Next, and the result converted back to UTC so every trigger in
// the system reports strictly monotone UTC instants regardless of DST.
type cronTrigger struct {
	sched cron.Schedule
	loc   *time.Location
}

func newCronTrigger(cfg domain.TriggerConfig) (Trigger, error) {
	minute := orStar(cfg.Minute)
	hour := orStar(cfg.Hour)
	day := orStar(cfg.Day)
	month := orStar(cfg.Month)
	dow := orStar(cfg.DayOfWeek)

	expr := fmt.Sprintf("%s %s %s %s %s", minute, hour, day, month, dow)
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTrigger, err)
	}

	tz := cfg.TZ
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown time zone %q", domain.ErrInvalidTrigger, tz)
	}

	return &cronTrigger{sched: sched, loc: loc}, nil
}

func orStar(field string) string {
	if field == "" {
		return "*"
	}
	return field
}

func (c *cronTrigger) NextAfter(t time.Time) (time.Time, bool) {
	local := t.In(c.loc)
	next := c.sched.Next(local)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next.In(time.UTC), true
}
