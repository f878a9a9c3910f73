package domain

import "time"

// InstanceDescriptor is one entry in the event bus's view of live scheduler
// instances. Lifetime is bounded by heartbeats: a descriptor missing three
// consecutive heartbeats is evicted by the bus.
type InstanceDescriptor struct {
	InstanceID      string
	PID             int
	PublishEndpoint string
	MonotonicSeq    uint64

	FirstSeen time.Time
	LastSeen  time.Time
}
