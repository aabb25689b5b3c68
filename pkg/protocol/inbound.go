package protocol

import (
	"encoding/json"
	"fmt"
)

// Field is an editable task field tracked by presence.
type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldDueDate     Field = "dueDate"
	FieldPriority    Field = "priority"
	FieldAssignee    Field = "assignee"
	FieldLabels      Field = "labels"
)

func (f Field) Valid() bool {
	switch f {
	case FieldTitle, FieldDescription, FieldDueDate, FieldPriority, FieldAssignee, FieldLabels:
		return true
	}
	return false
}

// Inbound is the closed set of client-to-server messages. The unexported
// marker method keeps implementations inside this package.
type Inbound interface {
	inbound()
}

type JoinProject struct {
	ProjectID ID `json:"projectId"`
}

type LeaveProject struct {
	ProjectID ID `json:"projectId"`
}

type StartEditing struct {
	ProjectID ID    `json:"projectId"`
	TaskID    ID    `json:"taskId"`
	Field     Field `json:"field"`
}

type StopEditing struct {
	ProjectID ID    `json:"projectId"`
	TaskID    ID    `json:"taskId"`
	Field     Field `json:"field"`
}

func (JoinProject) inbound()  {}
func (LeaveProject) inbound() {}
func (StartEditing) inbound() {}
func (StopEditing) inbound()  {}

// DecodeInbound turns a frame received from a client into a typed message.
func DecodeInbound(f Frame) (Inbound, error) {
	switch f.Event {
	case EventProjectJoin:
		var m JoinProject
		if err := unmarshalData(f, &m); err != nil {
			return nil, err
		}
		if m.ProjectID == "" {
			return nil, fmt.Errorf("%w: %s requires projectId", ErrInvalidPayload, f.Event)
		}
		return m, nil
	case EventProjectLeave:
		var m LeaveProject
		if err := unmarshalData(f, &m); err != nil {
			return nil, err
		}
		if m.ProjectID == "" {
			return nil, fmt.Errorf("%w: %s requires projectId", ErrInvalidPayload, f.Event)
		}
		return m, nil
	case EventEditingStart:
		var m StartEditing
		if err := unmarshalData(f, &m); err != nil {
			return nil, err
		}
		if err := validateEditing(f.Event, m.ProjectID, m.TaskID, m.Field); err != nil {
			return nil, err
		}
		return m, nil
	case EventEditingStop:
		var m StopEditing
		if err := unmarshalData(f, &m); err != nil {
			return nil, err
		}
		if err := validateEditing(f.Event, m.ProjectID, m.TaskID, m.Field); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

func unmarshalData(f Frame, v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrInvalidPayload, f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, f.Event, err)
	}
	return nil
}

func validateEditing(event string, projectID, taskID ID, field Field) error {
	if projectID == "" || taskID == "" {
		return fmt.Errorf("%w: %s requires projectId and taskId", ErrInvalidPayload, event)
	}
	if !field.Valid() {
		return fmt.Errorf("%w: %s has unsupported field %q", ErrInvalidPayload, event, field)
	}
	return nil
}
