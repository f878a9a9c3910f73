package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schedulezero/schedulezero/internal/domain"
	"github.com/schedulezero/schedulezero/internal/store"
	"github.com/schedulezero/schedulezero/internal/trigger"
)

// Store is the pgx-backed Store implementation. It holds no schedule state
// in the process — every call round-trips to Postgres — so it is safe to
// run from any number of scheduler instances pointed at the same database.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger.With("component", "store_postgres")}
}

const scheduleColumns = `id, handler_id, method, params, trigger_config, misfire_policy,
	grace_sec, max_attempts, paused, finished, next_fire, claim_owner,
	claim_deadline, last_run_at, created_at, updated_at`

func scanSchedule(row pgx.Row) (*domain.Schedule, error) {
	var s domain.Schedule
	var params, trig []byte
	if err := row.Scan(
		&s.ID, &s.HandlerID, &s.Method, &params, &trig, &s.Misfire,
		&s.GraceSec, &s.MaxAttempts, &s.Paused, &s.Finished, &s.NextFire,
		&s.ClaimOwner, &s.ClaimDeadline, &s.LastRunAt, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}

	if err := json.Unmarshal(params, &s.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := json.Unmarshal(trig, &s.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger_config: %w", err)
	}
	return &s, nil
}

func (s *Store) Add(ctx context.Context, sch *domain.Schedule) (*domain.Schedule, error) {
	if sch.Trigger.Kind == domain.TriggerInterval && sch.Trigger.Start == nil {
		start := time.Now()
		sch.Trigger.Start = &start
	}
	trig, err := trigger.New(sch.Trigger)
	if err != nil {
		return nil, err
	}

	sch.Normalize()
	next, ok := trig.NextAfter(time.Now())
	if !ok {
		return nil, domain.ErrInvalidTrigger
	}

	paramsJSON, err := json.Marshal(sch.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	triggerJSON, err := json.Marshal(sch.Trigger)
	if err != nil {
		return nil, fmt.Errorf("marshal trigger_config: %w", err)
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO schedules (
			id, handler_id, method, params, trigger_config, misfire_policy,
			grace_sec, max_attempts, paused, finished, next_fire
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, FALSE, $9)
		RETURNING %s`, scheduleColumns),
		sch.ID, sch.HandlerID, sch.Method, paramsJSON, triggerJSON, sch.Misfire,
		sch.GraceSec, sch.MaxAttempts, next,
	)

	created, err := scanSchedule(row)
	if err != nil {
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
			return nil, domain.ErrDuplicate
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) Remove(ctx context.Context, id string, strict bool) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 && strict {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (s *Store) setPaused(ctx context.Context, id string, paused bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE schedules SET paused = $2, updated_at = NOW() WHERE id = $1`, id, paused)
	if err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (s *Store) Pause(ctx context.Context, id string) error  { return s.setPaused(ctx, id, true) }
func (s *Store) Resume(ctx context.Context, id string) error { return s.setPaused(ctx, id, false) }

func (s *Store) Get(ctx context.Context, id string) (*domain.Schedule, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM schedules WHERE id = $1`, scheduleColumns), id)
	return scanSchedule(row)
}

func (s *Store) List(ctx context.Context, filter domain.ScheduleFilter) ([]*domain.Schedule, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedules WHERE TRUE`, scheduleColumns)
	var args []any

	if filter.HandlerID != "" {
		args = append(args, filter.HandlerID)
		query += fmt.Sprintf(" AND handler_id = $%d", len(args))
	}
	if filter.OnlyPaused {
		query += " AND paused"
	} else if !filter.IncludePaused {
		query += " AND NOT paused"
	}
	query += " ORDER BY id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []*domain.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

func (s *Store) DueBefore(ctx context.Context, t time.Time) ([]*domain.Schedule, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM schedules
		WHERE NOT paused AND NOT finished AND next_fire <= $1
		ORDER BY next_fire ASC, id ASC`, scheduleColumns), t)
	if err != nil {
		return nil, fmt.Errorf("due schedules: %w", err)
	}
	defer rows.Close()

	var out []*domain.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

// Claim reads the row to compute the trigger's following instant, then
// writes with a single conditional UPDATE: it only touches the row if
// next_fire still equals scheduledAt and any existing claim has expired.
// The next_fire advance (or finished flag) happens in the same statement,
// so a crash right after a successful claim can never cause the same
// instant to be claimed twice.
func (s *Store) Claim(ctx context.Context, scheduleID string, scheduledAt time.Time, claimantID string, claimTTL time.Duration) (store.ClaimResult, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM schedules WHERE id = $1`, scheduleColumns), scheduleID)
	sch, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, domain.ErrScheduleNotFound) {
			return store.ClaimResult{}, nil
		}
		return store.ClaimResult{}, err
	}

	trig, err := trigger.New(sch.Trigger)
	if err != nil {
		return store.ClaimResult{}, err
	}
	next, fires := trig.NextAfter(scheduledAt)

	now := time.Now()
	deadline := now.Add(claimTTL)

	var nextFireArg time.Time
	finished := !fires
	if fires {
		nextFireArg = next
	} else {
		nextFireArg = sch.NextFire
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE schedules
		SET claim_owner = $4, claim_deadline = $5, last_run_at = $6,
		    next_fire = $7, finished = $8, updated_at = NOW()
		WHERE id = $1 AND next_fire = $2
		  AND (claim_deadline IS NULL OR claim_deadline < $3)`,
		scheduleID, scheduledAt, now, claimantID, deadline, now, nextFireArg, finished)
	if err != nil {
		return store.ClaimResult{}, fmt.Errorf("claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ClaimResult{}, nil
	}
	return store.ClaimResult{Claimed: true, Finished: finished}, nil
}

func (s *Store) Release(ctx context.Context, scheduleID string, scheduledAt time.Time, claimantID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE schedules
		SET claim_owner = NULL, claim_deadline = NULL, updated_at = NOW()
		WHERE id = $1 AND claim_owner = $2`,
		scheduleID, claimantID)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

func (s *Store) EarliestNextFire(ctx context.Context) (time.Time, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT MIN(next_fire) FROM schedules WHERE NOT paused AND NOT finished`)

	var t *time.Time
	if err := row.Scan(&t); err != nil {
		return time.Time{}, false, fmt.Errorf("earliest next fire: %w", err)
	}
	if t == nil {
		return time.Time{}, false, nil
	}
	return *t, true, nil
}
