// Package transport implements the two brokerless message primitives the
// rest of the system is built on: request/reply between the dispatcher and
// handler processes, and publish/subscribe for the event bus and any
// dashboard feed. Both are plain net.Conn TCP connections exchanging
// newline-delimited JSON frames; there is no broker process.
package transport

// Envelope is the fixed wire shape for request/reply calls. New optional
// fields may be added in future versions without breaking v1 readers.
type Envelope struct {
	V          int            `json:"v"`
	Op         string         `json:"op"`
	FiringID   string         `json:"firing_id"`
	Method     string         `json:"method,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	DeadlineMS int64          `json:"deadline_ms,omitempty"`
	Status     string         `json:"status,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Retryable  bool           `json:"retryable,omitempty"`
}

const (
	OpCall   = "call"
	OpResult = "result"

	StatusOK    = "ok"
	StatusError = "error"

	EnvelopeVersion = 1
)
