package board

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"taskflow/internal/jobs"
)

func (s *Service) CreateColumn(ctx context.Context, actorID, projectID uint64, name string) (*Column, *Activity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, invalidf("name required")
	}

	var (
		c   Column
		act *Activity
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := memberRole(tx, projectID, actorID); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&Column{}).Where("project_id = ?", projectID).Count(&n).Error; err != nil {
			return err
		}

		c = Column{ProjectID: projectID, Name: name, Position: int(n)}
		if err := tx.Create(&c).Error; err != nil {
			return err
		}
		var err error
		act, err = logActivity(tx, projectID, nil, &actorID, "column.created", c.Name)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &c, act, nil
}

func (s *Service) RenameColumn(ctx context.Context, actorID, columnID uint64, name string) (*Column, *Activity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, invalidf("name required")
	}

	var (
		c   Column
		act *Activity
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, columnID).Error; err != nil {
			return notFound(err)
		}
		if _, err := memberRole(tx, c.ProjectID, actorID); err != nil {
			return err
		}

		c.Name = name
		if err := tx.Save(&c).Error; err != nil {
			return err
		}
		var err error
		act, err = logActivity(tx, c.ProjectID, nil, &actorID, "column.updated", c.Name)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &c, act, nil
}

// DeleteColumn removes a column together with its tasks and their comments.
func (s *Service) DeleteColumn(ctx context.Context, actorID, columnID uint64) (*Column, *Activity, error) {
	var (
		c   Column
		act *Activity
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&c, columnID).Error; err != nil {
			return notFound(err)
		}
		if _, err := memberRole(tx, c.ProjectID, actorID); err != nil {
			return err
		}

		var taskIDs []uint64
		if err := tx.Model(&Task{}).Where("column_id = ?", c.ID).Pluck("id", &taskIDs).Error; err != nil {
			return err
		}
		for _, id := range taskIDs {
			if err := jobs.CancelPending(tx, jobs.TypeTaskDue, jobs.TaskRef(id)); err != nil {
				return err
			}
		}
		if len(taskIDs) > 0 {
			if err := tx.Where("task_id IN ?", taskIDs).Delete(&Comment{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", taskIDs).Delete(&Task{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Delete(&c).Error; err != nil {
			return err
		}
		if err := tx.Model(&Column{}).
			Where("project_id = ? AND position > ?", c.ProjectID, c.Position).
			Update("position", gorm.Expr("position - 1")).Error; err != nil {
			return err
		}

		var err error
		act, err = logActivity(tx, c.ProjectID, nil, &actorID, "column.deleted", c.Name)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &c, act, nil
}

// ReorderColumns sets the project's column order. ids must list every column
// of the project exactly once.
func (s *Service) ReorderColumns(ctx context.Context, actorID, projectID uint64, ids []uint64) (*Reorder, *Activity, error) {
	var (
		r   Reorder
		act *Activity
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := memberRole(tx, projectID, actorID); err != nil {
			return err
		}
		var current []uint64
		if err := tx.Model(&Column{}).Where("project_id = ?", projectID).Pluck("id", &current).Error; err != nil {
			return err
		}
		if !samePermutation(current, ids) {
			return invalidf("column order must list every column of the project once")
		}

		r = Reorder{ProjectID: projectID}
		for i, id := range ids {
			if err := tx.Model(&Column{}).Where("id = ?", id).Update("position", i).Error; err != nil {
				return err
			}
			r.Positions = append(r.Positions, position(id, i))
		}
		var err error
		act, err = logActivity(tx, projectID, nil, &actorID, "column.reordered", "")
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &r, act, nil
}
