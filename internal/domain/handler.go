package domain

import (
	"sort"
	"time"
)

// HandlerStatus reflects recent heartbeat activity, not the TCP-level
// reachability of the address (4.D sweep sets this from last_seen alone).
type HandlerStatus string

const (
	HandlerConnected   HandlerStatus = "connected"
	HandlerUnreachable HandlerStatus = "unreachable"
)

// Handler is a remote process capable of executing one or more methods.
// The registry is the only component that mutates these.
type Handler struct {
	ID       string
	Address  string
	Methods  map[string]struct{}
	Status   HandlerStatus
	LastSeen time.Time

	FirstSeen time.Time
}

// HasMethod reports whether m is in the advertised method set.
func (h *Handler) HasMethod(m string) bool {
	if h == nil {
		return false
	}
	_, ok := h.Methods[m]
	return ok
}

// MethodSet builds the set form of a method name slice, as advertised at
// registration time.
func MethodSet(methods []string) map[string]struct{} {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}
	return set
}

// MethodList renders a method set back into a deterministic sorted slice,
// for API responses.
func MethodList(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
