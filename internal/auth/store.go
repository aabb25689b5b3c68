package auth

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

// IdentityStore resolves a token subject to the stored user.
type IdentityStore interface {
	FindUserByID(ctx context.Context, id uint64) (*User, error)
}

// Users is the GORM-backed identity store.
type Users struct {
	DB *gorm.DB
}

func (s *Users) FindUserByID(ctx context.Context, id uint64) (*User, error) {
	var u User
	if err := s.DB.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Users) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.DB.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Users) Create(ctx context.Context, u *User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	return s.DB.WithContext(ctx).Create(u).Error
}
