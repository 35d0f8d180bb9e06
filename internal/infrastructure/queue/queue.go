// Package queue is a durable work queue stored next to the builder tables.
//
// Enqueue is a plain insert, so a job is durable as soon as the call
// returns. Workers claim due jobs one at a time; a job is deleted on
// success and re-scheduled with backoff on failure until it runs out of
// attempts, after which it is parked as dead for inspection. Delivery is at
// least once: handlers must be idempotent.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"SelectionBuilder/internal/infrastructure/storage"
	"SelectionBuilder/internal/ports"
)

// Kind identifies a job handler.
type Kind string

const (
	KindMaterialize   Kind = "materialize"
	KindPollZimStatus Kind = "poll_zim_status"
)

// Status represents the lifecycle of a queued job.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDead    Status = "dead"
)

const claimAttempts = 3

// Job is a claimed unit of work.
type Job struct {
	ID          string
	Kind        Kind
	Payload     []byte
	Attempts    int
	AvailableAt time.Time
}

// MaterializePayload asks a worker to materialize a builder's current version.
type MaterializePayload struct {
	Model       string `json:"model"`
	BuilderID   string `json:"builder_id"`
	ContentType string `json:"content_type"`
}

// PollPayload asks a worker to check on a farm task.
type PollPayload struct {
	TaskID  string `json:"task_id"`
	Attempt int    `json:"attempt"`
}

// Store persists jobs in the shared database.
type Store struct {
	db  *storage.DB
	now func() time.Time
}

var _ ports.JobQueue = (*Store)(nil)

// New wires the queue onto an opened database.
func New(db *storage.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Enqueue stores a job that becomes due after delay.
func (s *Store) Enqueue(ctx context.Context, kind Kind, payload any, delay time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	now := s.now()

	_, err = s.db.Exec(ctx, s.db.Builder().
		Insert("jobs").
		Columns("j_id", "j_kind", "j_payload", "j_status", "j_attempts", "j_available_at", "j_created_at").
		Values(uuid.NewString(), string(kind), string(raw), string(StatusPending), 0,
			storage.FormatTime(now.Add(delay)), storage.FormatTime(now)))
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return nil
}

// EnqueueMaterialize queues materialization of a builder into contentType.
func (s *Store) EnqueueMaterialize(ctx context.Context, model, builderID, contentType string) error {
	return s.Enqueue(ctx, KindMaterialize, MaterializePayload{
		Model:       model,
		BuilderID:   builderID,
		ContentType: contentType,
	}, 0)
}

// EnqueuePollZimStatus queues a status check of a farm task.
func (s *Store) EnqueuePollZimStatus(ctx context.Context, taskID string, attempt int, delay time.Duration) error {
	return s.Enqueue(ctx, KindPollZimStatus, PollPayload{TaskID: taskID, Attempt: attempt}, delay)
}

// Claim marks the oldest due job running and returns it, or nil when idle.
func (s *Store) Claim(ctx context.Context) (*Job, error) {
	for i := 0; i < claimAttempts; i++ {
		now := storage.FormatTime(s.now())
		row, err := s.db.QueryRow(ctx, s.db.Builder().
			Select("j_id", "j_kind", "j_payload", "j_attempts", "j_available_at").
			From("jobs").
			Where(sq.Eq{"j_status": string(StatusPending)}).
			Where(sq.LtOrEq{"j_available_at": now}).
			OrderBy("j_available_at", "j_created_at").
			Limit(1))
		if err != nil {
			return nil, err
		}

		var (
			job       Job
			kind      string
			payload   string
			available string
		)
		err = row.Scan(&job.ID, &kind, &payload, &job.Attempts, &available)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select due job: %w", err)
		}

		res, err := s.db.Exec(ctx, s.db.Builder().
			Update("jobs").
			Set("j_status", string(StatusRunning)).
			Set("j_attempts", sq.Expr("j_attempts + 1")).
			Set("j_claimed_at", now).
			Where(sq.Eq{"j_id": job.ID, "j_status": string(StatusPending)}))
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Another worker won the race.
			continue
		}

		job.Kind = Kind(kind)
		job.Payload = []byte(payload)
		job.Attempts++
		job.AvailableAt = storage.ParseTime(available)
		return &job, nil
	}
	return nil, nil
}

// Complete removes a finished job.
func (s *Store) Complete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, s.db.Builder().Delete("jobs").Where(sq.Eq{"j_id": id})); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Fail re-schedules job after delay, or parks it as dead once it has used
// maxAttempts. It reports whether the job was parked.
func (s *Store) Fail(ctx context.Context, job *Job, cause error, maxAttempts int, delay time.Duration) (bool, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	update := s.db.Builder().
		Update("jobs").
		Set("j_last_error", msg).
		Set("j_claimed_at", nil).
		Where(sq.Eq{"j_id": job.ID})

	dead := job.Attempts >= maxAttempts
	if dead {
		update = update.Set("j_status", string(StatusDead))
	} else {
		update = update.
			Set("j_status", string(StatusPending)).
			Set("j_available_at", storage.FormatTime(s.now().Add(delay)))
	}

	if _, err := s.db.Exec(ctx, update); err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return dead, nil
}

// ReclaimStale returns running jobs claimed before cutoff to pending.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(ctx, s.db.Builder().
		Update("jobs").
		Set("j_status", string(StatusPending)).
		Set("j_claimed_at", nil).
		Where(sq.Eq{"j_status": string(StatusRunning)}).
		Where(sq.Lt{"j_claimed_at": storage.FormatTime(cutoff)}))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// Count is a per kind and status tally.
type Count struct {
	Kind   Kind
	Status Status
	Jobs   int
}

// Stats tallies jobs by kind and status.
func (s *Store) Stats(ctx context.Context) ([]Count, error) {
	rows, err := s.db.Query(ctx, s.db.Builder().
		Select("j_kind", "j_status", "COUNT(1)").
		From("jobs").
		GroupBy("j_kind", "j_status").
		OrderBy("j_kind", "j_status"))
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var counts []Count
	for rows.Next() {
		var (
			kind, status string
			n            int
		)
		if err := rows.Scan(&kind, &status, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		counts = append(counts, Count{Kind: Kind(kind), Status: Status(status), Jobs: n})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return counts, nil
}
