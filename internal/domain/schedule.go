package domain

import "time"

// TriggerKind selects which of the three trigger shapes a schedule carries.
type TriggerKind string

const (
	TriggerDate     TriggerKind = "date"
	TriggerInterval TriggerKind = "interval"
	TriggerCron     TriggerKind = "cron"
)

// MisfirePolicy controls what happens when a schedule's next fire instant
// has already passed by the time a scheduler instance gets around to it.
type MisfirePolicy string

const (
	MisfireRunNowIfLate MisfirePolicy = "run_now_if_late"
	MisfireSkipIfLate   MisfirePolicy = "skip_if_late"
)

// TriggerConfig is the JSON-shaped configuration for one of the three
// trigger kinds. Only the fields relevant to Kind are populated; the rest
// are the zero value. It is intentionally flat so it round-trips directly
// through the HTTP control plane's trigger_config payload.
type TriggerConfig struct {
	Kind TriggerKind `json:"type"`

	// date
	RunDate time.Time `json:"run_date,omitempty"`

	// interval
	Seconds int        `json:"seconds,omitempty"`
	Minutes int        `json:"minutes,omitempty"`
	Hours   int        `json:"hours,omitempty"`
	Start   *time.Time `json:"start,omitempty"`
	End     *time.Time `json:"end,omitempty"`

	// cron
	Minute     string `json:"minute,omitempty"`
	Hour       string `json:"hour,omitempty"`
	Day        string `json:"day,omitempty"`
	Month      string `json:"month,omitempty"`
	DayOfWeek  string `json:"day_of_week,omitempty"`
	TZ         string `json:"tz,omitempty"`
}

// Schedule is a user-created rule for repeated or one-shot execution.
type Schedule struct {
	ID         string
	HandlerID  string
	Method     string
	Params     map[string]any
	Trigger    TriggerConfig
	Misfire    MisfirePolicy
	GraceSec   int
	MaxAttempts int

	Paused bool

	NextFire time.Time
	Finished bool

	ClaimOwner    string
	ClaimDeadline *time.Time

	LastRunAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduleFilter narrows a List call. A zero value lists everything.
type ScheduleFilter struct {
	HandlerID      string
	IncludePaused  bool
	OnlyPaused     bool
}

func (m MisfirePolicy) orDefault() MisfirePolicy {
	if m == "" {
		return MisfireRunNowIfLate
	}
	return m
}

// Normalize fills in the documented defaults for a freshly submitted
// schedule: misfire policy run_now_if_late, three max attempts.
func (s *Schedule) Normalize() {
	s.Misfire = s.Misfire.orDefault()
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}
	if s.Params == nil {
		s.Params = map[string]any{}
	}
}
