package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"taskflow/internal/broadcast"
	"taskflow/internal/jobs"
)

// TaskDue records a system activity for a task whose due date has arrived.
// It returns a nil Activity when the task is gone or its due date changed
// since the reminder was scheduled.
func (s *Service) TaskDue(ctx context.Context, p jobs.TaskDue) (*Activity, error) {
	var act *Activity
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t Task
		if err := tx.First(&t, p.TaskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if t.DueAt == nil || !t.DueAt.Truncate(time.Second).Equal(p.DueAt.Truncate(time.Second)) {
			return nil
		}
		var err error
		act, err = logActivity(tx, t.ProjectID, &t.ID, nil, "task.due", t.Title)
		return err
	})
	return act, err
}

// DueReminder handles TASK_DUE jobs: it records the activity and announces it
// to the project room.
type DueReminder struct {
	Svc         *Service
	Broadcaster *broadcast.Broadcaster
	Logger      *slog.Logger
}

func (d *DueReminder) Handle(ctx context.Context, job *jobs.Job) error {
	var p jobs.TaskDue
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", job.Type, err, jobs.ErrPermanent)
	}

	act, err := d.Svc.TaskDue(ctx, p)
	if err != nil {
		return err
	}
	if act == nil {
		if d.Logger != nil {
			d.Logger.Debug("stale due reminder skipped", slog.Uint64("task_id", p.TaskID))
		}
		return nil
	}
	d.Broadcaster.ActivityLogged(ctx, ID(act.ProjectID), act, act.Actor())
	return nil
}
