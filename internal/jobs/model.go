package jobs

import "time"

const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusDone      = "DONE"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

const TypeTaskDue = "TASK_DUE"

type Job struct {
	ID uint64 `gorm:"primaryKey"`

	Type string `gorm:"type:text;not null"` // TASK_DUE
	// RefKey names the entity a job belongs to, e.g. "task:42", so pending
	// jobs can be replaced or cancelled without parsing payloads.
	RefKey  string `gorm:"index;not null;default:''"`
	Payload []byte `gorm:"not null"`

	RunAt  time.Time `gorm:"index;not null"`
	Status string    `gorm:"index;not null;default:'PENDING'"`

	Attempts    int `gorm:"not null;default:0"`
	MaxAttempts int `gorm:"not null;default:8"`

	LockedBy *string
	LockedAt *time.Time

	LastError *string

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// TaskDue is the payload of a TASK_DUE job.
type TaskDue struct {
	TaskID uint64    `json:"task_id"`
	DueAt  time.Time `json:"due_at"`
}
