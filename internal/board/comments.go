package board

import (
	"context"
	"strings"

	"gorm.io/gorm"
)

const maxCommentLen = 10_000

func commentBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", invalidf("body required")
	}
	if len(body) > maxCommentLen {
		return "", invalidf("body longer than %d bytes", maxCommentLen)
	}
	return body, nil
}

func (s *Service) AddComment(ctx context.Context, actorID, taskID uint64, body string) (*Comment, *Activity, error) {
	body, err := commentBody(body)
	if err != nil {
		return nil, nil, err
	}

	var (
		c   Comment
		act *Activity
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t Task
		if err := tx.First(&t, taskID).Error; err != nil {
			return notFound(err)
		}
		if _, err := memberRole(tx, t.ProjectID, actorID); err != nil {
			return err
		}

		c = Comment{TaskID: t.ID, ProjectID: t.ProjectID, AuthorID: actorID, Body: body}
		if err := tx.Create(&c).Error; err != nil {
			return err
		}
		var err error
		act, err = logActivity(tx, t.ProjectID, &t.ID, &actorID, "comment.created", t.Title)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &c, act, nil
}

// EditComment is allowed to the author only.
func (s *Service) EditComment(ctx context.Context, actorID, commentID uint64, body string) (*Comment, *Activity, error) {
	body, err := commentBody(body)
	if err != nil {
		return nil, nil, err
	}

	var (
		c   Comment
		act *Activity
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&c, commentID).Error; err != nil {
			return notFound(err)
		}
		if _, err := memberRole(tx, c.ProjectID, actorID); err != nil {
			return err
		}
		if c.AuthorID != actorID {
			return ErrForbidden
		}

		c.Body = body
		if err := tx.Save(&c).Error; err != nil {
			return err
		}
		var err error
		act, err = logActivity(tx, c.ProjectID, &c.TaskID, &actorID, "comment.updated", "")
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &c, act, nil
}

// DeleteComment is allowed to the author and the project owner.
func (s *Service) DeleteComment(ctx context.Context, actorID, commentID uint64) (*Comment, *Activity, error) {
	var (
		c   Comment
		act *Activity
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&c, commentID).Error; err != nil {
			return notFound(err)
		}
		role, err := memberRole(tx, c.ProjectID, actorID)
		if err != nil {
			return err
		}
		if c.AuthorID != actorID && role != RoleOwner {
			return ErrForbidden
		}

		if err := tx.Delete(&c).Error; err != nil {
			return err
		}
		act, err = logActivity(tx, c.ProjectID, &c.TaskID, &actorID, "comment.deleted", "")
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &c, act, nil
}
