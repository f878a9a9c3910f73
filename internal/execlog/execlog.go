// Package execlog is the Execution Log: a thread-safe, fixed-capacity ring
// of ExecutionRecords plus query and aggregate views over it. Insertion
// order equals start order; once a record reaches a terminal status it is
// immutable.
package execlog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/schedulezero/schedulezero/internal/domain"
)

const DefaultCapacity = 1000

// Publisher is the event-bus subset needed to announce log.cleared.
type Publisher interface {
	Publish(topic string, payload any)
}

// Metrics mirrors ring state into an observability sink (Prometheus in
// production); both methods are optional and a nil Metrics is a no-op.
type Metrics interface {
	ObserveExecution(status domain.ExecutionStatus)
	SetRingUtilization(fraction float64)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}

type noopMetrics struct{}

func (noopMetrics) ObserveExecution(domain.ExecutionStatus) {}
func (noopMetrics) SetRingUtilization(float64)              {}

// Log is the ring buffer implementation.
type Log struct {
	mu  sync.Mutex
	buf []*domain.ExecutionRecord
	pos int // next write slot
	n   int // number of valid entries, <= cap(buf)

	index map[string]*domain.ExecutionRecord

	pub     Publisher
	metrics Metrics
}

type Option func(*Log)

func WithPublisher(pub Publisher) Option { return func(l *Log) { l.pub = pub } }
func WithMetrics(m Metrics) Option {
	return func(l *Log) {
		if m != nil {
			l.metrics = m
		}
	}
}

// New builds a Log with the given ring capacity (DefaultCapacity if cap <= 0).
func New(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		buf:     make([]*domain.ExecutionRecord, capacity),
		index:   make(map[string]*domain.ExecutionRecord, capacity),
		pub:     noopPublisher{},
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordStart appends a running record for one dispatch attempt and
// returns its id. If the ring is full, the oldest entry is evicted.
func (l *Log) RecordStart(firingID, scheduleID, handlerID, method string, attempt int) string {
	rec := &domain.ExecutionRecord{
		RecordID:   uuid.NewString(),
		FiringID:   firingID,
		ScheduleID: scheduleID,
		HandlerID:  handlerID,
		Method:     method,
		StartedAt:  time.Now(),
		Status:     domain.ExecRunning,
		Attempt:    attempt,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if evicted := l.buf[l.pos]; evicted != nil {
		delete(l.index, evicted.RecordID)
	} else {
		l.n++
	}
	l.buf[l.pos] = rec
	l.index[rec.RecordID] = rec
	l.pos = (l.pos + 1) % len(l.buf)

	l.metrics.SetRingUtilization(float64(l.n) / float64(len(l.buf)))
	return rec.RecordID
}

// RecordTerminal mutates the exact entry named by recordID into a terminal
// state. It rejects (domain.ErrAlreadyTerminal) if the record has already
// been finalized, and domain.ErrRecordNotFound if the id is unknown (it
// aged out of the ring).
func (l *Log) RecordTerminal(recordID string, status domain.ExecutionStatus, result any, errMsg string, isFinal bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.index[recordID]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if rec.Status != domain.ExecRunning {
		return domain.ErrAlreadyTerminal
	}

	now := time.Now()
	rec.Status = status
	rec.Result = result
	rec.Error = errMsg
	rec.IsFinal = isFinal
	rec.CompletedAt = &now
	rec.DurationMS = now.Sub(rec.StartedAt).Milliseconds()

	l.metrics.ObserveExecution(status)
	return nil
}

// Query returns a newest-first snapshot matching filter.
func (l *Log) Query(filter domain.ExecutionFilter) []*domain.ExecutionRecord {
	l.mu.Lock()
	all := l.snapshotLocked()
	l.mu.Unlock()

	var out []*domain.ExecutionRecord
	for _, rec := range all {
		if filter.HandlerID != "" && rec.HandlerID != filter.HandlerID {
			continue
		}
		if filter.ScheduleID != "" && rec.ScheduleID != filter.ScheduleID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// snapshotLocked returns every valid entry, newest first, copying records
// so callers never see a pointer into the live ring.
func (l *Log) snapshotLocked() []*domain.ExecutionRecord {
	out := make([]*domain.ExecutionRecord, 0, l.n)
	idx := (l.pos - 1 + len(l.buf)) % len(l.buf)
	for i := 0; i < l.n; i++ {
		if rec := l.buf[idx]; rec != nil {
			cp := *rec
			out = append(out, &cp)
		}
		idx = (idx - 1 + len(l.buf)) % len(l.buf)
	}
	return out
}

// Stats computes the aggregate view: totals, per-handler breakdown,
// success rate, average duration, and ring utilization.
func (l *Log) Stats() domain.ExecutionStats {
	l.mu.Lock()
	all := l.snapshotLocked()
	capacity := len(l.buf)
	l.mu.Unlock()

	stats := domain.ExecutionStats{ByHandler: make(map[string]domain.HandlerStats)}
	var totalDuration int64
	var completed int

	for _, rec := range all {
		stats.Total++
		hs := stats.ByHandler[rec.HandlerID]
		hs.Total++

		switch rec.Status {
		case domain.ExecSuccess:
			stats.SuccessCount++
			hs.SuccessCount++
		case domain.ExecError, domain.ExecTimeout:
			stats.ErrorCount++
			hs.ErrorCount++
		}
		stats.ByHandler[rec.HandlerID] = hs

		if rec.CompletedAt != nil {
			totalDuration += rec.DurationMS
			completed++
		}
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.Total)
	}
	if completed > 0 {
		stats.AvgDurationMS = float64(totalDuration) / float64(completed)
	}
	stats.BufferUtilization = float64(len(all)) / float64(capacity)

	return stats
}

// Clear drops every record and publishes log.cleared. It returns the
// number of records that were cleared.
func (l *Log) Clear() int {
	l.mu.Lock()
	cleared := l.n
	for i := range l.buf {
		l.buf[i] = nil
	}
	l.index = make(map[string]*domain.ExecutionRecord, len(l.buf))
	l.pos = 0
	l.n = 0
	l.metrics.SetRingUtilization(0)
	l.mu.Unlock()

	l.pub.Publish("log.cleared", map[string]any{"records_cleared": cleared})
	return cleared
}
