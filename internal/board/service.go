// Package board is the REST write path for projects, columns, tasks and
// comments. Every mutation records an Activity row in the same transaction;
// callers broadcast after commit.
package board

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"taskflow/internal/auth"
	"taskflow/pkg/protocol"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

type Service struct {
	DB *gorm.DB
}

// View is a project with its columns and tasks, both in board order.
type View struct {
	Project Project  `json:"project"`
	Columns []Column `json:"columns"`
	Tasks   []Task   `json:"tasks"`
}

// Reorder is the committed order of a project's columns or of one column's
// tasks. ColumnID is zero for a column reorder.
type Reorder struct {
	ProjectID uint64
	ColumnID  uint64
	Positions []protocol.Position
}

func (s *Service) CreateProject(ctx context.Context, ownerID uint64, name string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidf("name required")
	}

	var p Project
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p = Project{Name: name, OwnerID: ownerID}
		if err := tx.Create(&p).Error; err != nil {
			return err
		}
		if err := tx.Create(&ProjectMember{ProjectID: p.ID, UserID: ownerID, Role: RoleOwner}).Error; err != nil {
			return err
		}
		_, err := logActivity(tx, p.ID, nil, &ownerID, "project.created", p.Name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AddMember grants userID access to the project. Only the owner may add
// members. Adding an existing member is a no-op and returns a nil Activity.
func (s *Service) AddMember(ctx context.Context, actorID, projectID, userID uint64) (*ProjectMember, *Activity, error) {
	var (
		m   ProjectMember
		act *Activity
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		role, err := memberRole(tx, projectID, actorID)
		if err != nil {
			return err
		}
		if role != RoleOwner {
			return ErrForbidden
		}

		var users int64
		if err := tx.Model(&auth.User{}).Where("id = ?", userID).Count(&users).Error; err != nil {
			return err
		}
		if users == 0 {
			return fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}

		err = tx.Where("project_id = ? AND user_id = ?", projectID, userID).First(&m).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		m = ProjectMember{ProjectID: projectID, UserID: userID, Role: RoleMember}
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		act, err = logActivity(tx, projectID, nil, &actorID, "member.added", fmt.Sprintf("user %d", userID))
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &m, act, nil
}

// IsMember reports whether userID may see projectID. Malformed ids are
// simply not members.
func (s *Service) IsMember(ctx context.Context, projectID protocol.ID, userID string) (bool, error) {
	pid, ok := ParseID(projectID)
	if !ok {
		return false, nil
	}
	uid, ok := ParseID(protocol.ID(userID))
	if !ok {
		return false, nil
	}

	var n int64
	err := s.DB.WithContext(ctx).Model(&ProjectMember{}).
		Where("project_id = ? AND user_id = ?", pid, uid).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Service) Board(ctx context.Context, actorID, projectID uint64) (*View, error) {
	db := s.DB.WithContext(ctx)
	if _, err := memberRole(db, projectID, actorID); err != nil {
		return nil, err
	}

	var v View
	if err := db.First(&v.Project, projectID).Error; err != nil {
		return nil, notFound(err)
	}
	if err := db.Where("project_id = ?", projectID).Order("position asc, id asc").Find(&v.Columns).Error; err != nil {
		return nil, err
	}
	if err := db.Where("project_id = ?", projectID).Order("column_id asc, position asc, id asc").Find(&v.Tasks).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// Activities returns the newest entries of a project's feed first.
func (s *Service) Activities(ctx context.Context, actorID, projectID uint64, limit int) ([]Activity, error) {
	db := s.DB.WithContext(ctx)
	if _, err := memberRole(db, projectID, actorID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	out := []Activity{}
	err := db.Where("project_id = ?", projectID).Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

// memberRole fails with ErrNotFound for a missing project and ErrForbidden
// for a non-member.
func memberRole(tx *gorm.DB, projectID, userID uint64) (string, error) {
	var m ProjectMember
	err := tx.Where("project_id = ? AND user_id = ?", projectID, userID).First(&m).Error
	if err == nil {
		return m.Role, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	var n int64
	if err := tx.Model(&Project{}).Where("id = ?", projectID).Count(&n).Error; err != nil {
		return "", err
	}
	if n == 0 {
		return "", ErrNotFound
	}
	return "", ErrForbidden
}

func logActivity(tx *gorm.DB, projectID uint64, taskID, actorID *uint64, kind, summary string) (*Activity, error) {
	a := Activity{
		ProjectID: projectID,
		TaskID:    taskID,
		ActorID:   actorID,
		Kind:      kind,
		Summary:   summary,
	}
	if err := tx.Create(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
