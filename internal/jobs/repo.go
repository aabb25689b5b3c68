package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Queue is what the worker needs from job storage.
type Queue interface {
	Claim(ctx context.Context, workerID string) (*Job, error)
	MarkDone(ctx context.Context, id uint64) error
	MarkFailed(ctx context.Context, id uint64, errMsg string) error
	RetryLater(ctx context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error
}

type Repo struct {
	DB *gorm.DB
}

func TaskRef(taskID uint64) string {
	return fmt.Sprintf("task:%d", taskID)
}

// ScheduleTaskDue replaces any pending TASK_DUE job of the task. Pass the
// caller's transaction so the job commits with the task change.
func ScheduleTaskDue(tx *gorm.DB, taskID uint64, dueAt time.Time) error {
	if err := CancelPending(tx, TypeTaskDue, TaskRef(taskID)); err != nil {
		return err
	}
	payload, err := json.Marshal(TaskDue{TaskID: taskID, DueAt: dueAt.UTC()})
	if err != nil {
		return err
	}
	j := Job{
		Type:        TypeTaskDue,
		RefKey:      TaskRef(taskID),
		Payload:     payload,
		RunAt:       dueAt,
		Status:      StatusPending,
		MaxAttempts: 8,
	}
	return tx.Create(&j).Error
}

// CancelPending cancels jobs of one type for one entity that have not been
// claimed yet.
func CancelPending(tx *gorm.DB, typ, ref string) error {
	return tx.Model(&Job{}).
		Where("type = ? AND ref_key = ? AND status = ?", typ, ref, StatusPending).
		Updates(map[string]any{"status": StatusCancelled, "updated_at": time.Now()}).Error
}

// Claim one due job atomically using SKIP LOCKED.
// Works on Postgres.
func (r *Repo) Claim(ctx context.Context, workerID string) (*Job, error) {
	var job Job
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// requeue jobs whose worker died mid-run
		if err := tx.Exec(`
update jobs
set status='PENDING', locked_by=null, locked_at=null, updated_at=now()
where status='RUNNING' and locked_at is not null and locked_at < now() - interval '5 minutes'
`).Error; err != nil {
			return err
		}

		// FOR UPDATE SKIP LOCKED ensures no double-claim
		return tx.Raw(`
with cte as (
  select id
  from jobs
  where status='PENDING' and run_at <= now()
  order by run_at asc
  for update skip locked
  limit 1
)
update jobs
set status='RUNNING', locked_by=?, locked_at=now(), updated_at=now()
where id in (select id from cte)
returning *;
`, workerID).Scan(&job).Error
	})
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *Repo) MarkDone(ctx context.Context, id uint64) error {
	return r.setStatus(ctx, id, map[string]any{"status": StatusDone})
}

func (r *Repo) MarkFailed(ctx context.Context, id uint64, errMsg string) error {
	return r.setStatus(ctx, id, map[string]any{"status": StatusFailed, "last_error": errMsg})
}

func (r *Repo) RetryLater(ctx context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error {
	return r.setStatus(ctx, id, map[string]any{
		"status":     StatusPending,
		"attempts":   attempts,
		"run_at":     runAt,
		"locked_by":  nil,
		"locked_at":  nil,
		"last_error": errMsg,
	})
}

func (r *Repo) setStatus(ctx context.Context, id uint64, cols map[string]any) error {
	cols["updated_at"] = time.Now()
	return r.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Updates(cols).Error
}
