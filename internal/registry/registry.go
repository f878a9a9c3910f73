// Package registry is the Handler Registry: a near-real-time view of which
// handler processes are live, where, and what methods they advertise. It
// holds the only mutable shared state for handler identity in a scheduler
// instance, behind a single mutex, and never exposes its internal map.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/schedulezero/schedulezero/internal/domain"
)

// Publisher is the subset of the event bus the registry needs; nil is a
// valid no-op publisher for single-instance deployments.
type Publisher interface {
	Publish(topic string, payload any)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}

// RegisterResult reports whether this was a first registration or a
// replace of an existing entry (handler rebooted onto a new address).
type RegisterResult struct {
	Accepted bool
	Replaced bool
}

// Registry is the mutex-protected Handler Registry.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*domain.Handler

	pub        Publisher
	snapshot   string
	logger     *slog.Logger
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithSnapshot sets the path of a JSON snapshot file written after every
// Register and Unregister and read back at startup to pre-populate display
// state; Heartbeat and Sweep do not rewrite it.
func WithSnapshot(path string) Option {
	return func(r *Registry) { r.snapshot = path }
}

// WithPublisher wires the registry to the event bus so registration,
// unregistration, and sweep transitions fan out as handler.* events.
func WithPublisher(pub Publisher) Option {
	return func(r *Registry) {
		if pub != nil {
			r.pub = pub
		}
	}
}

func New(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		handlers: make(map[string]*domain.Handler),
		pub:      noopPublisher{},
		logger:   logger.With("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.snapshot != "" {
		r.loadSnapshot()
	}
	return r
}

type snapshotEntry struct {
	ID      string   `json:"id"`
	Address string   `json:"address"`
	Methods []string `json:"methods"`
}

func (r *Registry) loadSnapshot() {
	data, err := os.ReadFile(r.snapshot)
	if err != nil {
		return
	}
	var entries []snapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		r.logger.Warn("discarding unreadable handler snapshot", "path", r.snapshot, "error", err)
		return
	}
	for _, e := range entries {
		r.handlers[e.ID] = &domain.Handler{
			ID:      e.ID,
			Address: e.Address,
			Methods: domain.MethodSet(e.Methods),
			Status:  domain.HandlerUnreachable,
		}
	}
}

// writeSnapshot must be called with r.mu held (read or write lock); it
// serializes the current map for the next startup's display pre-population.
// It is best-effort: a write failure is logged, never returned to callers,
// since the snapshot is not authoritative for dispatch.
func (r *Registry) writeSnapshot() {
	if r.snapshot == "" {
		return
	}
	entries := make([]snapshotEntry, 0, len(r.handlers))
	for _, h := range r.handlers {
		entries = append(entries, snapshotEntry{ID: h.ID, Address: h.Address, Methods: domain.MethodList(h.Methods)})
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		r.logger.Warn("marshal handler snapshot", "error", err)
		return
	}
	tmp := r.snapshot + ".tmp"
	if err := os.MkdirAll(filepath.Dir(r.snapshot), 0o755); err != nil {
		r.logger.Warn("create snapshot dir", "error", err)
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		r.logger.Warn("write handler snapshot", "error", err)
		return
	}
	if err := os.Rename(tmp, r.snapshot); err != nil {
		r.logger.Warn("rename handler snapshot", "error", err)
	}
}

// Register accepts a first registration or replaces an existing entry for
// the same handler_id. A re-registration from a different, currently
// connected address with a recent heartbeat is rejected with Conflict
// unless force is set.
func (r *Registry) Register(ctx context.Context, handlerID, address string, methods []string, force bool) (RegisterResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	existing, ok := r.handlers[handlerID]
	if ok && existing.Status == domain.HandlerConnected && existing.Address != address && !force {
		return RegisterResult{}, domain.ErrConflict
	}

	replaced := ok
	h := &domain.Handler{
		ID:        handlerID,
		Address:   address,
		Methods:   domain.MethodSet(methods),
		Status:    domain.HandlerConnected,
		LastSeen:  now,
		FirstSeen: now,
	}
	if ok {
		h.FirstSeen = existing.FirstSeen
	}
	r.handlers[handlerID] = h
	r.writeSnapshot()

	r.pub.Publish("handler.registered", map[string]any{
		"handler_id": handlerID, "address": address, "methods": domain.MethodList(h.Methods), "replaced": replaced,
	})

	return RegisterResult{Accepted: true, Replaced: replaced}, nil
}

// Heartbeat updates last_seen and flips an unreachable handler back to
// connected.
func (r *Registry) Heartbeat(_ context.Context, handlerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handlers[handlerID]
	if !ok {
		return domain.ErrHandlerUnknown
	}
	h.LastSeen = time.Now()
	h.Status = domain.HandlerConnected
	return nil
}

// Unregister removes the entry outright and publishes handler.unregistered.
func (r *Registry) Unregister(_ context.Context, handlerID string) error {
	r.mu.Lock()
	_, ok := r.handlers[handlerID]
	delete(r.handlers, handlerID)
	r.writeSnapshot()
	r.mu.Unlock()

	if !ok {
		return domain.ErrHandlerUnknown
	}
	r.pub.Publish("handler.unregistered", map[string]any{"handler_id": handlerID})
	return nil
}

// Lookup returns a copy of the entry for handlerID.
func (r *Registry) Lookup(_ context.Context, handlerID string) (*domain.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[handlerID]
	if !ok {
		return nil, domain.ErrHandlerUnknown
	}
	cp := *h
	return &cp, nil
}

// List returns a snapshot of every known handler, sorted by id.
func (r *Registry) List(_ context.Context) []*domain.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		cp := *h
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sweep marks entries unreachable if now - last_seen > timeout, publishing
// handler.status for each transition.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) {
	var transitioned []string

	r.mu.Lock()
	for id, h := range r.handlers {
		if h.Status == domain.HandlerConnected && now.Sub(h.LastSeen) > timeout {
			h.Status = domain.HandlerUnreachable
			transitioned = append(transitioned, id)
		}
	}
	r.mu.Unlock()

	for _, id := range transitioned {
		r.pub.Publish("handler.status", map[string]any{"handler_id": id, "status": domain.HandlerUnreachable})
	}
}

// Run periodically sweeps the registry until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now, timeout)
		}
	}
}

// String aids log messages; not used for equality.
func (r *Registry) String() string {
	return fmt.Sprintf("registry(%d handlers)", len(r.handlers))
}
