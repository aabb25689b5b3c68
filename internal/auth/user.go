package auth

import (
	"strconv"
	"time"
)

type User struct {
	ID           uint64    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	Name         string    `gorm:"not null;default:''"`
	AvatarURL    string    `gorm:"not null;default:''"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
}

// Identity is the minimal user record attached to an authenticated connection.
type Identity struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

func (u *User) Identity() Identity {
	return Identity{
		ID:     strconv.FormatUint(u.ID, 10),
		Email:  u.Email,
		Name:   u.Name,
		Avatar: u.AvatarURL,
	}
}
