package syncclient

import (
	"encoding/json"
	"fmt"
	"sync"

	"taskflow/pkg/protocol"
)

type fieldKey struct {
	TaskID protocol.ID
	Field  protocol.Field
}

type editing struct {
	ProjectID protocol.ID
	User      protocol.PresenceUser
}

// PresenceView mirrors the server's editing table for the projects this
// client joined. It is display state only and never touches the cache.
type PresenceView struct {
	mu      sync.RWMutex
	editors map[fieldKey]editing
}

func NewPresenceView() *PresenceView {
	return &PresenceView{editors: make(map[fieldKey]editing)}
}

func (v *PresenceView) Apply(event string, data json.RawMessage) error {
	switch event {
	case protocol.EventEditingActive:
		var m protocol.EditingActive
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("%w: %s: %v", protocol.ErrInvalidPayload, event, err)
		}
		v.mu.Lock()
		v.editors[fieldKey{m.TaskID, m.Field}] = editing{ProjectID: m.ProjectID, User: m.User}
		v.mu.Unlock()
	case protocol.EventEditingInactive:
		var m protocol.EditingInactive
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("%w: %s: %v", protocol.ErrInvalidPayload, event, err)
		}
		v.mu.Lock()
		delete(v.editors, fieldKey{m.TaskID, m.Field})
		v.mu.Unlock()
	case protocol.EventPresenceSync:
		var m protocol.PresenceSync
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("%w: %s: %v", protocol.ErrInvalidPayload, event, err)
		}
		v.mu.Lock()
		v.dropProjectLocked(m.ProjectID)
		for _, e := range m.Editors {
			v.editors[fieldKey{e.TaskID, e.Field}] = editing{ProjectID: m.ProjectID, User: e.User}
		}
		v.mu.Unlock()
	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownEvent, event)
	}
	return nil
}

// Editor reports who is editing a task field.
func (v *PresenceView) Editor(taskID protocol.ID, field protocol.Field) (protocol.PresenceUser, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.editors[fieldKey{taskID, field}]
	return e.User, ok
}

// TaskEditors lists the fields of a task currently being edited.
func (v *PresenceView) TaskEditors(taskID protocol.ID) map[protocol.Field]protocol.PresenceUser {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[protocol.Field]protocol.PresenceUser)
	for k, e := range v.editors {
		if k.TaskID == taskID {
			out[k.Field] = e.User
		}
	}
	return out
}

// Clear drops one task field. The server never echoes a connection's own
// editing deltas back to it, so the local entry goes when this client takes
// the field over or lets go of it.
func (v *PresenceView) Clear(taskID protocol.ID, field protocol.Field) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.editors, fieldKey{taskID, field})
}

// Forget drops a project, e.g. after leaving its room.
func (v *PresenceView) Forget(projectID protocol.ID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropProjectLocked(projectID)
}

func (v *PresenceView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.editors)
}

func (v *PresenceView) dropProjectLocked(projectID protocol.ID) {
	for k, e := range v.editors {
		if e.ProjectID == projectID {
			delete(v.editors, k)
		}
	}
}
