package board

import (
	"database/sql/driver"
	"strconv"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"taskflow/pkg/protocol"
)

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

type Project struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	OwnerID   uint64    `gorm:"index;not null" json:"ownerId"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updatedAt"`
}

type ProjectMember struct {
	ProjectID uint64    `gorm:"primaryKey" json:"projectId"`
	UserID    uint64    `gorm:"primaryKey;index" json:"userId"`
	Role      string    `gorm:"not null;default:'member'" json:"role"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"createdAt"`
}

type Column struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	ProjectID uint64    `gorm:"index;not null" json:"projectId"`
	Name      string    `gorm:"not null" json:"name"`
	Position  int       `gorm:"not null;default:0" json:"order"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updatedAt"`
}

type Task struct {
	ID          uint64     `gorm:"primaryKey" json:"id"`
	ProjectID   uint64     `gorm:"index;not null" json:"projectId"`
	ColumnID    uint64     `gorm:"index;not null" json:"columnId"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `gorm:"not null;default:''" json:"description"`
	Priority    string     `gorm:"not null;default:'medium'" json:"priority"`
	AssigneeID  *uint64    `gorm:"index" json:"assigneeId"`
	Labels      Labels     `gorm:"not null" json:"labels"`
	DueAt       *time.Time `json:"dueDate"`
	Position    int        `gorm:"not null;default:0" json:"order"`
	CreatedBy   uint64     `gorm:"not null" json:"createdBy"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"not null;autoUpdateTime" json:"updatedAt"`
}

type Comment struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	TaskID    uint64    `gorm:"index;not null" json:"taskId"`
	ProjectID uint64    `gorm:"index;not null" json:"projectId"`
	AuthorID  uint64    `gorm:"not null" json:"authorId"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updatedAt"`
}

// Activity is the append-only project feed. A nil ActorID marks an entry
// written by the system, such as a due-date reminder.
type Activity struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	ProjectID uint64    `gorm:"index:idx_activity_project;not null" json:"projectId"`
	TaskID    *uint64   `json:"taskId,omitempty"`
	ActorID   *uint64   `json:"actorId,omitempty"`
	Kind      string    `gorm:"not null" json:"kind"`
	Summary   string    `gorm:"not null;default:''" json:"summary"`
	CreatedAt time.Time `gorm:"index:idx_activity_project;not null;autoCreateTime" json:"createdAt"`
}

// Actor returns the broadcast attribution of the entry.
func (a *Activity) Actor() string {
	if a.ActorID == nil {
		return ""
	}
	return strconv.FormatUint(*a.ActorID, 10)
}

// Labels is stored as text[] on Postgres and as its array literal elsewhere.
type Labels []string

func (l Labels) Value() (driver.Value, error) {
	if l == nil {
		return "{}", nil
	}
	return pq.StringArray(l).Value()
}

func (l *Labels) Scan(src any) error {
	var a pq.StringArray
	if err := a.Scan(src); err != nil {
		return err
	}
	*l = Labels(a)
	return nil
}

func (Labels) GormDataType() string { return "text[]" }

func (Labels) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

// ID renders a numeric key in wire form.
func ID(id uint64) protocol.ID {
	return protocol.ID(strconv.FormatUint(id, 10))
}

// ParseID is the inverse of ID.
func ParseID(id protocol.ID) (uint64, bool) {
	n, err := strconv.ParseUint(id.String(), 10, 64)
	return n, err == nil && n > 0
}

// Models lists every table owned by this package.
func Models() []any {
	return []any{&Project{}, &ProjectMember{}, &Column{}, &Task{}, &Comment{}, &Activity{}}
}
