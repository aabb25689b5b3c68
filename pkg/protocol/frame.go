// Package protocol defines the realtime wire format shared by the server and its clients.
//
// Every websocket text message is a Frame: {"event": "<name>", "data": {...}}.
// Client-to-server frames decode into the closed Inbound set; server-to-client
// frames carry either a mutation envelope or a presence payload.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Client -> server events.
const (
	EventProjectJoin  = "project:join"
	EventProjectLeave = "project:leave"
	EventEditingStart = "editing:start"
	EventEditingStop  = "editing:stop"
)

// Server -> client events.
const (
	EventTaskCreated   = "task:created"
	EventTaskUpdated   = "task:updated"
	EventTaskDeleted   = "task:deleted"
	EventTaskMoved     = "task:moved"
	EventTaskReordered = "task:reordered"

	EventColumnCreated   = "column:created"
	EventColumnUpdated   = "column:updated"
	EventColumnDeleted   = "column:deleted"
	EventColumnReordered = "column:reordered"

	EventCommentCreated = "comment:created"
	EventCommentUpdated = "comment:updated"
	EventCommentDeleted = "comment:deleted"

	EventAttachmentUploaded = "attachment:uploaded"
	EventAttachmentDeleted  = "attachment:deleted"

	EventActivityLogged = "activity:logged"

	EventEditingActive   = "editing:active"
	EventEditingInactive = "editing:inactive"
	EventPresenceSync    = "presence:sync"
)

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Frame is one websocket message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals data and wraps it in a frame for event.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// Decode parses a raw websocket message into a frame.
func Decode(msg []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(f.Event) == "" {
		return Frame{}, fmt.Errorf("%w: missing event", ErrInvalidPayload)
	}
	return f, nil
}

// ID is an entity identifier. Clients may send ids as JSON strings or numbers;
// both decode to the same string form.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*id = ""
		return nil
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(v))
		return nil
	default:
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return fmt.Errorf("id must be a string or number, got %s", s)
		}
		*id = ID(s)
		return nil
	}
}

func (id ID) String() string { return string(id) }

// ProjectRoom returns the broadcast group name for a project.
func ProjectRoom(projectID ID) string {
	return "project:" + string(projectID)
}
