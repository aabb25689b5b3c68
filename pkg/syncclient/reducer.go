// Package syncclient is the receiving side of the board's realtime channel.
// It turns room broadcasts into cache invalidations and keeps a view of who
// is editing what.
package syncclient

import (
	"encoding/json"
	"fmt"
	"strings"

	"taskflow/pkg/protocol"
)

// Invalidator drops a cached query so the next read refetches it.
type Invalidator interface {
	Invalidate(key string)
}

type InvalidatorFunc func(key string)

func (f InvalidatorFunc) Invalidate(key string) { f(key) }

// Notification is a non-blocking hint for the UI, e.g. "a task was updated".
type Notification struct {
	Event     string
	ProjectID protocol.ID
	ActorID   string
	Message   string
}

type Notifier interface {
	Notify(n Notification)
}

type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

func ProjectKey(projectID protocol.ID) string  { return "project:" + projectID.String() }
func TasksKey(projectID protocol.ID) string    { return "tasks:" + projectID.String() }
func TaskKey(taskID protocol.ID) string        { return "task:" + taskID.String() }
func CommentsKey(taskID protocol.ID) string    { return "comments:" + taskID.String() }
func ActivityKey(projectID protocol.ID) string { return "activity:" + projectID.String() }

// Result describes what Apply did with one event.
type Result struct {
	Event string
	// Self is set when the event was caused by the viewer and skipped.
	Self        bool
	Invalidated []string
	Notified    bool
	Presence    bool
}

// Reducer applies broadcast events to a local cache. It never merges entity
// state; it only invalidates, and the next fetch from the REST layer wins.
type Reducer struct {
	ViewerID string
	Cache    Invalidator
	Notifier Notifier
	// Presence receives editing:* and presence:sync. Optional.
	Presence *PresenceView
}

func NewReducer(viewerID string, cache Invalidator, notifier Notifier) *Reducer {
	return &Reducer{
		ViewerID: viewerID,
		Cache:    cache,
		Notifier: notifier,
		Presence: NewPresenceView(),
	}
}

// Apply handles one server event.
func (r *Reducer) Apply(event string, data json.RawMessage) (Result, error) {
	res := Result{Event: event}

	switch event {
	case protocol.EventEditingActive, protocol.EventEditingInactive, protocol.EventPresenceSync:
		res.Presence = true
		if r.Presence == nil {
			return res, nil
		}
		return res, r.Presence.Apply(event, data)
	}

	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return res, fmt.Errorf("%w: %s: %v", protocol.ErrInvalidPayload, event, err)
	}
	if r.ViewerID != "" && env.Meta.UserID == r.ViewerID {
		res.Self = true
		return res, nil
	}

	keys, ok := affectedKeys(event, env)
	if !ok {
		return res, fmt.Errorf("%w: %q", protocol.ErrUnknownEvent, event)
	}
	for _, k := range keys {
		if r.Cache != nil {
			r.Cache.Invalidate(k)
		}
		res.Invalidated = append(res.Invalidated, k)
	}

	// activity:logged accompanies every mutation; it refreshes the feed but
	// does not raise its own notification.
	if event != protocol.EventActivityLogged && r.Notifier != nil {
		r.Notifier.Notify(Notification{
			Event:     event,
			ProjectID: env.ProjectID,
			ActorID:   env.Meta.UserID,
			Message:   describe(event),
		})
		res.Notified = true
	}
	return res, nil
}

func affectedKeys(event string, env protocol.Envelope) ([]string, bool) {
	pid := env.ProjectID
	var keys []string

	switch event {
	case protocol.EventTaskCreated, protocol.EventTaskUpdated:
		keys = append(keys, TasksKey(pid))
		if id := protocol.EntityID(env.Task); id != "" {
			keys = append(keys, TaskKey(id))
		}
	case protocol.EventTaskDeleted, protocol.EventTaskMoved:
		keys = append(keys, TasksKey(pid))
		if env.TaskID != "" {
			keys = append(keys, TaskKey(env.TaskID))
		}
	case protocol.EventTaskReordered:
		keys = append(keys, TasksKey(pid))
	case protocol.EventColumnCreated, protocol.EventColumnUpdated, protocol.EventColumnReordered:
		keys = append(keys, ProjectKey(pid))
	case protocol.EventColumnDeleted:
		// a column delete takes its tasks with it
		keys = append(keys, ProjectKey(pid), TasksKey(pid))
	case protocol.EventCommentCreated, protocol.EventCommentUpdated, protocol.EventCommentDeleted:
		if env.TaskID != "" {
			keys = append(keys, CommentsKey(env.TaskID))
		}
	case protocol.EventAttachmentUploaded, protocol.EventAttachmentDeleted:
		if env.TaskID != "" {
			keys = append(keys, TaskKey(env.TaskID))
		}
	case protocol.EventActivityLogged:
		keys = append(keys, ActivityKey(pid))
	default:
		return nil, false
	}
	return keys, true
}

func describe(event string) string {
	entity, verb, ok := strings.Cut(event, ":")
	if !ok {
		return event
	}
	return fmt.Sprintf("a %s was %s", entity, verb)
}
