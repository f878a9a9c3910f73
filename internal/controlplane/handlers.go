// Package controlplane is the Control Plane Adapter (component I): the
// operator-facing HTTP surface over the handler registry, schedule store,
// dispatcher, and execution log. It performs no scheduling logic of its
// own — every handler is a thin translation from an HTTP request into one
// call on a narrow collaborator interface, and from a domain sentinel
// error back into the right status code.
package controlplane

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/schedulezero/schedulezero/internal/domain"
	"github.com/schedulezero/schedulezero/internal/health"
	"github.com/schedulezero/schedulezero/internal/schedulerloop"
	"github.com/schedulezero/schedulezero/internal/trigger"
)

// HandlerRegistry is the subset of internal/registry the adapter needs.
type HandlerRegistry interface {
	List(ctx context.Context) []*domain.Handler
	Lookup(ctx context.Context, handlerID string) (*domain.Handler, error)
}

// ScheduleStore is the subset of internal/store.Store the adapter needs.
type ScheduleStore interface {
	Add(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error)
	Remove(ctx context.Context, id string, strict bool) error
	List(ctx context.Context, filter domain.ScheduleFilter) ([]*domain.Schedule, error)
}

// Runner is the scheduler loop's run_now entry point.
type Runner interface {
	RunNow(ctx context.Context, handlerID, method string, params map[string]any) (schedulerloop.RunNowResult, error)
}

// ExecutionLog is the subset of internal/execlog the adapter needs.
type ExecutionLog interface {
	Query(filter domain.ExecutionFilter) []*domain.ExecutionRecord
	Stats() domain.ExecutionStats
	Clear() int
}

// HealthChecker is the subset of internal/health the adapter needs.
type HealthChecker interface {
	Readiness(ctx context.Context) health.HealthResult
}

// Notifier wakes the scheduler loop early after a mutation that may move
// up the earliest next-fire instant (schedule add and remove).
type Notifier interface {
	Notify()
}

type noopNotifier struct{}

func (noopNotifier) Notify() {}

// Handlers holds every collaborator the control plane routes dispatch to.
type Handlers struct {
	registry HandlerRegistry
	schedules ScheduleStore
	runner    Runner
	execlog   ExecutionLog
	health    HealthChecker
	notify    Notifier
	logger    *slog.Logger
}

// Option configures Handlers at construction time.
type Option func(*Handlers)

func WithNotifier(n Notifier) Option { return func(h *Handlers) { h.notify = n } }

func New(registry HandlerRegistry, schedules ScheduleStore, runner Runner, execlog ExecutionLog, health HealthChecker, logger *slog.Logger, opts ...Option) *Handlers {
	h := &Handlers{
		registry:  registry,
		schedules: schedules,
		runner:    runner,
		execlog:   execlog,
		health:    health,
		notify:    noopNotifier{},
		logger:    logger.With("component", "control_plane"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type handlerView struct {
	ID       string   `json:"id"`
	Address  string   `json:"address"`
	Methods  []string `json:"methods"`
	Status   string   `json:"status"`
	LastSeen string   `json:"last_seen"`
}

// ListHandlers handles GET /api/handlers.
func (h *Handlers) ListHandlers(c *gin.Context) {
	entries := h.registry.List(c.Request.Context())
	views := make([]handlerView, 0, len(entries))
	for _, e := range entries {
		views = append(views, handlerView{
			ID:       e.ID,
			Address:  e.Address,
			Methods:  domain.MethodList(e.Methods),
			Status:   string(e.Status),
			LastSeen: e.LastSeen.UTC().Format("2006-01-02T15:04:05.000Z"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"handlers": views})
}

type createScheduleRequest struct {
	HandlerID     string                `json:"handler_id" binding:"required"`
	MethodName    string                `json:"method_name" binding:"required"`
	JobParams     map[string]any        `json:"job_params"`
	TriggerConfig domain.TriggerConfig  `json:"trigger_config" binding:"required"`
	Misfire       domain.MisfirePolicy  `json:"misfire_policy"`
	GraceSeconds  int                   `json:"grace_seconds"`
	MaxAttempts   int                   `json:"max_attempts"`
}

// CreateSchedule handles POST /api/schedule.
func (h *Handlers) CreateSchedule(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	handlerEntry, err := h.registry.Lookup(ctx, req.HandlerID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": errHandlerUnknown})
		return
	}
	if !handlerEntry.HasMethod(req.MethodName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": errMethodUnknown})
		return
	}

	if _, err := trigger.New(req.TriggerConfig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidTrigger})
		return
	}

	sch := &domain.Schedule{
		ID:          uuid.NewString(),
		HandlerID:   req.HandlerID,
		Method:      req.MethodName,
		Params:      req.JobParams,
		Trigger:     req.TriggerConfig,
		Misfire:     req.Misfire,
		GraceSec:    req.GraceSeconds,
		MaxAttempts: req.MaxAttempts,
	}
	sch.Normalize()

	created, err := h.schedules.Add(ctx, sch)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTrigger):
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidTrigger})
		case errors.Is(err, domain.ErrDuplicate):
			c.JSON(http.StatusConflict, gin.H{"error": errDuplicate})
		default:
			h.logger.Error("add schedule", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	h.notify.Notify()
	c.JSON(http.StatusOK, gin.H{"status": "success", "schedule_id": created.ID})
}

type runNowRequest struct {
	HandlerID  string         `json:"handler_id" binding:"required"`
	MethodName string         `json:"method_name" binding:"required"`
	JobParams  map[string]any `json:"job_params"`
}

// RunNow handles POST /api/run_now.
func (h *Handlers) RunNow(c *gin.Context) {
	var req runNowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.runner.RunNow(c.Request.Context(), req.HandlerID, req.MethodName, req.JobParams)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrHandlerUnknown):
			c.JSON(http.StatusNotFound, gin.H{"error": errHandlerUnknown})
		case errors.Is(err, domain.ErrMethodUnknown):
			c.JSON(http.StatusBadRequest, gin.H{"error": errMethodUnknown})
		default:
			h.logger.Error("run_now", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "firing_id": result.FiringID})
}

type scheduleView struct {
	ID          string `json:"id"`
	HandlerID   string `json:"handler_id"`
	Method      string `json:"method_name"`
	Paused      bool   `json:"paused"`
	Finished    bool   `json:"finished"`
	NextFire    string `json:"next_fire,omitempty"`
	MaxAttempts int    `json:"max_attempts"`
}

// ListSchedules handles GET /api/schedules.
func (h *Handlers) ListSchedules(c *gin.Context) {
	filter := domain.ScheduleFilter{
		HandlerID:     c.Query("handler_id"),
		IncludePaused: true,
	}
	schedules, err := h.schedules.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("list schedules", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	views := make([]scheduleView, 0, len(schedules))
	for _, s := range schedules {
		v := scheduleView{
			ID:          s.ID,
			HandlerID:   s.HandlerID,
			Method:      s.Method,
			Paused:      s.Paused,
			Finished:    s.Finished,
			MaxAttempts: s.MaxAttempts,
		}
		if !s.NextFire.IsZero() {
			v.NextFire = s.NextFire.UTC().Format("2006-01-02T15:04:05.000Z")
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"schedules": views, "count": len(views)})
}

// DeleteSchedule handles DELETE /api/schedules/:id.
func (h *Handlers) DeleteSchedule(c *gin.Context) {
	id := c.Param("id")
	if err := h.schedules.Remove(c.Request.Context(), id, true); err != nil {
		if errors.Is(err, domain.ErrScheduleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errScheduleNotFound})
			return
		}
		h.logger.Error("remove schedule", "schedule_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	h.notify.Notify()
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

type executionView struct {
	RecordID   string `json:"record_id"`
	FiringID   string `json:"firing_id"`
	ScheduleID string `json:"schedule_id,omitempty"`
	HandlerID  string `json:"handler_id"`
	Method     string `json:"method"`
	StartedAt  string `json:"started_at"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Status     string `json:"status"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	Attempt    int    `json:"attempt"`
	IsFinal    bool   `json:"is_final"`
}

func toExecutionView(rec *domain.ExecutionRecord) executionView {
	return executionView{
		RecordID:   rec.RecordID,
		FiringID:   rec.FiringID,
		ScheduleID: rec.ScheduleID,
		HandlerID:  rec.HandlerID,
		Method:     rec.Method,
		StartedAt:  rec.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		DurationMS: rec.DurationMS,
		Status:     string(rec.Status),
		Result:     rec.Result,
		Error:      rec.Error,
		Attempt:    rec.Attempt,
		IsFinal:    rec.IsFinal,
	}
}

const defaultExecutionsLimit = 100

// ListExecutions handles GET /api/executions.
func (h *Handlers) ListExecutions(c *gin.Context) {
	limit := queryInt(c, "limit", defaultExecutionsLimit)
	filter := domain.ExecutionFilter{
		HandlerID:  c.Query("handler_id"),
		ScheduleID: c.Query("schedule_id"),
		Status:     domain.ExecutionStatus(c.Query("status")),
		Limit:      limit,
	}

	records := h.execlog.Query(filter)
	views := make([]executionView, 0, len(records))
	for _, r := range records {
		views = append(views, toExecutionView(r))
	}
	c.JSON(http.StatusOK, gin.H{"records": views, "count": len(views), "limit": limit})
}

// ExecutionStats handles GET /api/executions/stats.
func (h *Handlers) ExecutionStats(c *gin.Context) {
	stats := h.execlog.Stats()
	c.JSON(http.StatusOK, gin.H{
		"total":              stats.Total,
		"success_count":      stats.SuccessCount,
		"error_count":        stats.ErrorCount,
		"success_rate":       stats.SuccessRate,
		"avg_duration_ms":    stats.AvgDurationMS,
		"by_handler":         stats.ByHandler,
		"buffer_utilization": stats.BufferUtilization,
	})
}

// ExecutionErrors handles GET /api/executions/errors: the newest error or
// timeout terminal records, regardless of handler or schedule.
func (h *Handlers) ExecutionErrors(c *gin.Context) {
	limit := queryInt(c, "limit", defaultExecutionsLimit)

	errRecords := h.execlog.Query(domain.ExecutionFilter{Status: domain.ExecError})
	timeoutRecords := h.execlog.Query(domain.ExecutionFilter{Status: domain.ExecTimeout})
	merged := mergeNewestFirst(errRecords, timeoutRecords, limit)

	views := make([]executionView, 0, len(merged))
	for _, r := range merged {
		views = append(views, toExecutionView(r))
	}
	c.JSON(http.StatusOK, gin.H{"errors": views, "count": len(views), "limit": limit})
}

// ClearExecutions handles POST /api/executions/clear.
func (h *Handlers) ClearExecutions(c *gin.Context) {
	cleared := h.execlog.Clear()
	c.JSON(http.StatusOK, gin.H{"status": "success", "records_cleared": cleared})
}

// Health handles GET /api/health.
func (h *Handlers) Health(c *gin.Context) {
	result := h.health.Readiness(c.Request.Context())
	status := http.StatusOK
	if result.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": result.Status, "checks": result.Checks})
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return def
	}
	return n
}

// mergeNewestFirst merges two already-newest-first slices by StartedAt,
// preserving newest-first order, and truncates to limit.
func mergeNewestFirst(a, b []*domain.ExecutionRecord, limit int) []*domain.ExecutionRecord {
	out := make([]*domain.ExecutionRecord, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].StartedAt.After(b[j].StartedAt) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
