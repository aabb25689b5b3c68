package protocol

import "encoding/json"

// Meta attributes a mutation broadcast to the acting user.
// Timestamp is epoch milliseconds.
type Meta struct {
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// Nested envelopes wrap an opaque serialized entity.

type TaskEnvelope struct {
	Task      any  `json:"task"`
	ProjectID ID   `json:"projectId"`
	Meta      Meta `json:"meta"`
}

type ColumnEnvelope struct {
	Column    any  `json:"column"`
	ProjectID ID   `json:"projectId"`
	Meta      Meta `json:"meta"`
}

type CommentEnvelope struct {
	Comment   any  `json:"comment"`
	TaskID    ID   `json:"taskId"`
	ProjectID ID   `json:"projectId"`
	Meta      Meta `json:"meta"`
}

type AttachmentEnvelope struct {
	Attachment any  `json:"attachment"`
	TaskID     ID   `json:"taskId"`
	ProjectID  ID   `json:"projectId"`
	Meta       Meta `json:"meta"`
}

type ActivityEnvelope struct {
	Activity  any  `json:"activity"`
	ProjectID ID   `json:"projectId"`
	Meta      Meta `json:"meta"`
}

// Flattened envelopes carry routing fields next to the meta block.

type TaskDeleted struct {
	TaskID    ID     `json:"taskId"`
	ColumnID  ID     `json:"columnId,omitempty"`
	ProjectID ID     `json:"projectId"`
	UserID    string `json:"userId"`
	Meta      Meta   `json:"meta"`
}

type TaskMoved struct {
	TaskID       ID     `json:"taskId"`
	FromColumnID ID     `json:"fromColumnId"`
	ToColumnID   ID     `json:"toColumnId"`
	Order        int    `json:"order"`
	ProjectID    ID     `json:"projectId"`
	UserID       string `json:"userId"`
	Meta         Meta   `json:"meta"`
}

// Position is one entry of a reorder: entity id and its new zero-based order.
type Position struct {
	ID    ID  `json:"id"`
	Order int `json:"order"`
}

type TaskReordered struct {
	ColumnID  ID         `json:"columnId"`
	Tasks     []Position `json:"tasks"`
	ProjectID ID         `json:"projectId"`
	UserID    string     `json:"userId"`
	Meta      Meta       `json:"meta"`
}

type ColumnDeleted struct {
	ColumnID  ID     `json:"columnId"`
	ProjectID ID     `json:"projectId"`
	UserID    string `json:"userId"`
	Meta      Meta   `json:"meta"`
}

type ColumnReordered struct {
	Columns   []Position `json:"columns"`
	ProjectID ID         `json:"projectId"`
	UserID    string     `json:"userId"`
	Meta      Meta       `json:"meta"`
}

type CommentDeleted struct {
	CommentID ID     `json:"commentId"`
	TaskID    ID     `json:"taskId"`
	ProjectID ID     `json:"projectId"`
	UserID    string `json:"userId"`
	Meta      Meta   `json:"meta"`
}

type AttachmentDeleted struct {
	AttachmentID ID     `json:"attachmentId"`
	TaskID       ID     `json:"taskId"`
	ProjectID    ID     `json:"projectId"`
	UserID       string `json:"userId"`
	Meta         Meta   `json:"meta"`
}

// Envelope is the receiving side's view of any mutation broadcast. Entity
// payloads stay raw; only routing fields are decoded.
type Envelope struct {
	ProjectID ID   `json:"projectId"`
	TaskID    ID   `json:"taskId,omitempty"`
	ColumnID  ID   `json:"columnId,omitempty"`
	Meta      Meta `json:"meta"`

	Task       json.RawMessage `json:"task,omitempty"`
	Column     json.RawMessage `json:"column,omitempty"`
	Comment    json.RawMessage `json:"comment,omitempty"`
	Attachment json.RawMessage `json:"attachment,omitempty"`
	Activity   json.RawMessage `json:"activity,omitempty"`
}

// EntityID extracts the "id" field of a raw entity payload, or "" if absent.
func EntityID(raw json.RawMessage) ID {
	if len(raw) == 0 {
		return ""
	}
	var v struct {
		ID ID `json:"id"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v.ID
}

// Presence payloads.

type PresenceUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type EditingActive struct {
	ProjectID ID           `json:"projectId"`
	TaskID    ID           `json:"taskId"`
	Field     Field        `json:"field"`
	User      PresenceUser `json:"user"`
}

type EditingInactive struct {
	ProjectID ID    `json:"projectId"`
	TaskID    ID    `json:"taskId"`
	Field     Field `json:"field"`
}

type PresenceSync struct {
	ProjectID ID              `json:"projectId"`
	Editors   []EditingActive `json:"editors"`
}
