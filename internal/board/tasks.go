package board

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"taskflow/internal/jobs"
	"taskflow/pkg/protocol"
)

var priorities = map[string]bool{"low": true, "medium": true, "high": true, "urgent": true}

type TaskInput struct {
	Title       string
	Description string
	Priority    string
	AssigneeID  *uint64
	Labels      []string
	DueAt       *time.Time
}

// TaskPatch changes only the non-nil fields. ClearAssignee and ClearDueAt
// unset the corresponding field.
type TaskPatch struct {
	Title         *string
	Description   *string
	Priority      *string
	AssigneeID    *uint64
	ClearAssignee bool
	Labels        *[]string
	DueAt         *time.Time
	ClearDueAt    bool
}

// Move is a committed task move.
type Move struct {
	Task         Task
	FromColumnID uint64
}

func (s *Service) CreateTask(ctx context.Context, actorID, columnID uint64, in TaskInput) (*Task, *Activity, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, nil, invalidf("title required")
	}
	priority := strings.ToLower(strings.TrimSpace(in.Priority))
	if priority == "" {
		priority = "medium"
	}
	if !priorities[priority] {
		return nil, nil, invalidf("priority %q", in.Priority)
	}
	labels, err := NormalizeLabels(in.Labels)
	if err != nil {
		return nil, nil, err
	}

	var (
		t   Task
		act *Activity
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c Column
		if err := tx.First(&c, columnID).Error; err != nil {
			return notFound(err)
		}
		if _, err := memberRole(tx, c.ProjectID, actorID); err != nil {
			return err
		}
		if in.AssigneeID != nil {
			if err := requireAssignable(tx, c.ProjectID, *in.AssigneeID); err != nil {
				return err
			}
		}
		var n int64
		if err := tx.Model(&Task{}).Where("column_id = ?", columnID).Count(&n).Error; err != nil {
			return err
		}

		t = Task{
			ProjectID:   c.ProjectID,
			ColumnID:    c.ID,
			Title:       title,
			Description: in.Description,
			Priority:    priority,
			AssigneeID:  in.AssigneeID,
			Labels:      labels,
			DueAt:       in.DueAt,
			Position:    int(n),
			CreatedBy:   actorID,
		}
		if err := tx.Create(&t).Error; err != nil {
			return err
		}
		if t.DueAt != nil {
			if err := jobs.ScheduleTaskDue(tx, t.ID, *t.DueAt); err != nil {
				return err
			}
		}
		var err error
		act, err = logActivity(tx, t.ProjectID, &t.ID, &actorID, "task.created", t.Title)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &t, act, nil
}

func (s *Service) UpdateTask(ctx context.Context, actorID, taskID uint64, p TaskPatch) (*Task, *Activity, error) {
	var (
		t   Task
		act *Activity
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&t, taskID).Error; err != nil {
			return notFound(err)
		}
		if _, err := memberRole(tx, t.ProjectID, actorID); err != nil {
			return err
		}

		var changed []string
		if p.Title != nil {
			title := strings.TrimSpace(*p.Title)
			if title == "" {
				return invalidf("title required")
			}
			t.Title = title
			changed = append(changed, string(protocol.FieldTitle))
		}
		if p.Description != nil {
			t.Description = *p.Description
			changed = append(changed, string(protocol.FieldDescription))
		}
		if p.Priority != nil {
			priority := strings.ToLower(strings.TrimSpace(*p.Priority))
			if !priorities[priority] {
				return invalidf("priority %q", *p.Priority)
			}
			t.Priority = priority
			changed = append(changed, string(protocol.FieldPriority))
		}
		switch {
		case p.ClearAssignee:
			t.AssigneeID = nil
			changed = append(changed, string(protocol.FieldAssignee))
		case p.AssigneeID != nil:
			if err := requireAssignable(tx, t.ProjectID, *p.AssigneeID); err != nil {
				return err
			}
			t.AssigneeID = p.AssigneeID
			changed = append(changed, string(protocol.FieldAssignee))
		}
		if p.Labels != nil {
			labels, err := NormalizeLabels(*p.Labels)
			if err != nil {
				return err
			}
			t.Labels = labels
			changed = append(changed, string(protocol.FieldLabels))
		}
		dueChanged := false
		switch {
		case p.ClearDueAt:
			t.DueAt = nil
			dueChanged = true
		case p.DueAt != nil:
			t.DueAt = p.DueAt
			dueChanged = true
		}
		if dueChanged {
			changed = append(changed, string(protocol.FieldDueDate))
		}
		if len(changed) == 0 {
			return invalidf("nothing to update")
		}

		if err := tx.Save(&t).Error; err != nil {
			return err
		}
		if dueChanged {
			if err := rescheduleDue(tx, &t); err != nil {
				return err
			}
		}
		var err error
		act, err = logActivity(tx, t.ProjectID, &t.ID, &actorID, "task.updated", strings.Join(changed, ","))
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &t, act, nil
}

// MoveTask places a task at a zero-based order in a column of the same
// project, closing the gap it leaves behind. Orders past the end append.
func (s *Service) MoveTask(ctx context.Context, actorID, taskID, toColumnID uint64, order int) (*Move, *Activity, error) {
	if order < 0 {
		return nil, nil, invalidf("order must not be negative")
	}

	var (
		m   Move
		act *Activity
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t := &m.Task
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(t, taskID).Error; err != nil {
			return notFound(err)
		}
		if _, err := memberRole(tx, t.ProjectID, actorID); err != nil {
			return err
		}
		var to Column
		if err := tx.First(&to, toColumnID).Error; err != nil {
			return notFound(err)
		}
		if to.ProjectID != t.ProjectID {
			return invalidf("column %d belongs to another project", toColumnID)
		}
		m.FromColumnID = t.ColumnID

		if err := tx.Model(&Task{}).
			Where("column_id = ? AND position > ?", t.ColumnID, t.Position).
			Update("position", gorm.Expr("position - 1")).Error; err != nil {
			return err
		}

		var n int64
		if err := tx.Model(&Task{}).Where("column_id = ? AND id <> ?", to.ID, t.ID).Count(&n).Error; err != nil {
			return err
		}
		if order > int(n) {
			order = int(n)
		}
		if err := tx.Model(&Task{}).
			Where("column_id = ? AND id <> ? AND position >= ?", to.ID, t.ID, order).
			Update("position", gorm.Expr("position + 1")).Error; err != nil {
			return err
		}

		t.ColumnID = to.ID
		t.Position = order
		if err := tx.Save(t).Error; err != nil {
			return err
		}
		var err error
		act, err = logActivity(tx, t.ProjectID, &t.ID, &actorID, "task.moved", to.Name)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &m, act, nil
}

// ReorderTasks sets the order of one column. ids must list every task of the
// column exactly once.
func (s *Service) ReorderTasks(ctx context.Context, actorID, columnID uint64, ids []uint64) (*Reorder, *Activity, error) {
	var (
		r   Reorder
		act *Activity
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c Column
		if err := tx.First(&c, columnID).Error; err != nil {
			return notFound(err)
		}
		if _, err := memberRole(tx, c.ProjectID, actorID); err != nil {
			return err
		}
		var current []uint64
		if err := tx.Model(&Task{}).Where("column_id = ?", columnID).Pluck("id", &current).Error; err != nil {
			return err
		}
		if !samePermutation(current, ids) {
			return invalidf("task order must list every task of the column once")
		}

		r = Reorder{ProjectID: c.ProjectID, ColumnID: c.ID}
		for i, id := range ids {
			if err := tx.Model(&Task{}).Where("id = ?", id).Update("position", i).Error; err != nil {
				return err
			}
			r.Positions = append(r.Positions, position(id, i))
		}
		var err error
		act, err = logActivity(tx, c.ProjectID, nil, &actorID, "task.reordered", c.Name)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &r, act, nil
}

func (s *Service) DeleteTask(ctx context.Context, actorID, taskID uint64) (*Task, *Activity, error) {
	var (
		t   Task
		act *Activity
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&t, taskID).Error; err != nil {
			return notFound(err)
		}
		if _, err := memberRole(tx, t.ProjectID, actorID); err != nil {
			return err
		}

		if err := tx.Where("task_id = ?", t.ID).Delete(&Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&t).Error; err != nil {
			return err
		}
		if err := tx.Model(&Task{}).
			Where("column_id = ? AND position > ?", t.ColumnID, t.Position).
			Update("position", gorm.Expr("position - 1")).Error; err != nil {
			return err
		}
		if err := jobs.CancelPending(tx, jobs.TypeTaskDue, jobs.TaskRef(t.ID)); err != nil {
			return err
		}
		var err error
		act, err = logActivity(tx, t.ProjectID, nil, &actorID, "task.deleted", t.Title)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &t, act, nil
}

func rescheduleDue(tx *gorm.DB, t *Task) error {
	if t.DueAt == nil {
		return jobs.CancelPending(tx, jobs.TypeTaskDue, jobs.TaskRef(t.ID))
	}
	return jobs.ScheduleTaskDue(tx, t.ID, *t.DueAt)
}

func requireAssignable(tx *gorm.DB, projectID, userID uint64) error {
	if _, err := memberRole(tx, projectID, userID); err != nil {
		if errors.Is(err, ErrForbidden) {
			return invalidf("assignee %d is not a project member", userID)
		}
		return err
	}
	return nil
}

func samePermutation(current, ids []uint64) bool {
	if len(current) != len(ids) {
		return false
	}
	want := make(map[uint64]bool, len(current))
	for _, id := range current {
		want[id] = true
	}
	for _, id := range ids {
		if !want[id] {
			return false
		}
		delete(want, id)
	}
	return true
}

func position(id uint64, order int) protocol.Position {
	return protocol.Position{ID: ID(id), Order: order}
}
