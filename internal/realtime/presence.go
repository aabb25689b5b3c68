package realtime

import (
	"log/slog"
	"sort"
	"sync"

	"taskflow/pkg/protocol"
)

type presenceKey struct {
	TaskID protocol.ID
	Field  protocol.Field
}

type presenceEntry struct {
	ProjectID protocol.ID
	User      protocol.PresenceUser
	ConnID    string
}

// Presence is the per-process table of who is editing which task field.
// At most one editor is recorded per (task, field); the latest start wins.
//
// Every mutation publishes its delta while the table lock is held, so the
// order of editing:active/inactive broadcasts matches the order of changes.
// owners is the reverse index used by disconnect cleanup and is updated
// together with entries.
type Presence struct {
	mu      sync.Mutex
	entries map[presenceKey]presenceEntry
	owners  map[string]map[presenceKey]struct{}

	publish func(Message) error
	logger  *slog.Logger
}

func NewPresence(publish func(Message) error, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{
		entries: make(map[presenceKey]presenceEntry),
		owners:  make(map[string]map[presenceKey]struct{}),
		publish: publish,
		logger:  logger,
	}
}

// Start records c as the editor of (taskID, field) and announces it to the
// project room, excluding c itself. A closed connection records nothing:
// Unregister closes before it releases, so checking under the table lock
// leaves no window for an entry to outlive its connection.
func (p *Presence) Start(c *Conn, projectID, taskID protocol.ID, field protocol.Field) bool {
	key := presenceKey{TaskID: taskID, Field: field}
	user := protocol.PresenceUser{ID: c.Identity.ID, Name: c.Identity.Name, Avatar: c.Identity.Avatar}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c.State() != StateAuthenticated {
		return false
	}

	if prev, ok := p.entries[key]; ok {
		if prev.ConnID != c.ID {
			p.unindex(prev.ConnID, key)
		}
		// the old project's room would otherwise keep the previous editor
		if prev.ProjectID != projectID {
			p.emit(protocol.ProjectRoom(prev.ProjectID), protocol.EventEditingInactive, protocol.EditingInactive{
				ProjectID: prev.ProjectID,
				TaskID:    taskID,
				Field:     field,
			}, "")
		}
	}
	p.entries[key] = presenceEntry{ProjectID: projectID, User: user, ConnID: c.ID}
	p.index(c.ID, key)

	p.emit(protocol.ProjectRoom(projectID), protocol.EventEditingActive, protocol.EditingActive{
		ProjectID: projectID,
		TaskID:    taskID,
		Field:     field,
		User:      user,
	}, c.ID)
	return true
}

// Stop removes the entry when it belongs to c's user. A stop for a key that is
// absent or held by another user is ignored: the entry may already have been
// released by a disconnect or taken over by a newer editor.
//
// The inactive reaches the whole room, c included: c may still show the
// editor it displaced, and the user's other tabs show the entry too.
func (p *Presence) Stop(c *Conn, taskID protocol.ID, field protocol.Field) bool {
	key := presenceKey{TaskID: taskID, Field: field}

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok || e.User.ID != c.Identity.ID {
		return false
	}
	p.removeLocked(key, e, "")
	return true
}

// ReleaseConn drops every entry owned by the connection and announces one
// editing:inactive per entry. Called on disconnect.
func (p *Presence) ReleaseConn(connID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releaseLocked(connID, func(presenceEntry) bool { return true })
}

// ReleaseProject drops the connection's entries within one project.
func (p *Presence) ReleaseProject(connID string, projectID protocol.ID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releaseLocked(connID, func(e presenceEntry) bool { return e.ProjectID == projectID })
}

// WithSnapshot runs fn with the current editors of a project while holding
// the table lock, so no delta can be published between the snapshot and
// whatever fn does with it.
func (p *Presence) WithSnapshot(projectID protocol.ID, fn func([]protocol.EditingActive)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.snapshotLocked(projectID))
}

func (p *Presence) Snapshot(projectID protocol.ID) []protocol.EditingActive {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked(projectID)
}

// Editor returns the current editor of (taskID, field).
func (p *Presence) Editor(taskID protocol.ID, field protocol.Field) (protocol.PresenceUser, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[presenceKey{TaskID: taskID, Field: field}]
	return e.User, ok
}

// Owned counts the entries held by a connection.
func (p *Presence) Owned(connID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.owners[connID])
}

func (p *Presence) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Presence) releaseLocked(connID string, match func(presenceEntry) bool) int {
	keys := make([]presenceKey, 0, len(p.owners[connID]))
	for k := range p.owners[connID] {
		keys = append(keys, k)
	}
	sortKeys(keys)

	released := 0
	for _, k := range keys {
		e, ok := p.entries[k]
		if !ok || e.ConnID != connID || !match(e) {
			continue
		}
		p.removeLocked(k, e, connID)
		released++
	}
	return released
}

func (p *Presence) removeLocked(key presenceKey, e presenceEntry, exclude string) {
	delete(p.entries, key)
	p.unindex(e.ConnID, key)

	p.emit(protocol.ProjectRoom(e.ProjectID), protocol.EventEditingInactive, protocol.EditingInactive{
		ProjectID: e.ProjectID,
		TaskID:    key.TaskID,
		Field:     key.Field,
	}, exclude)
}

func (p *Presence) snapshotLocked(projectID protocol.ID) []protocol.EditingActive {
	keys := make([]presenceKey, 0)
	for k, e := range p.entries {
		if e.ProjectID == projectID {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)

	out := make([]protocol.EditingActive, 0, len(keys))
	for _, k := range keys {
		e := p.entries[k]
		out = append(out, protocol.EditingActive{
			ProjectID: e.ProjectID,
			TaskID:    k.TaskID,
			Field:     k.Field,
			User:      e.User,
		})
	}
	return out
}

func (p *Presence) index(connID string, key presenceKey) {
	set, ok := p.owners[connID]
	if !ok {
		set = make(map[presenceKey]struct{})
		p.owners[connID] = set
	}
	set[key] = struct{}{}
}

func (p *Presence) unindex(connID string, key presenceKey) {
	set, ok := p.owners[connID]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(p.owners, connID)
	}
}

func (p *Presence) emit(room, event string, payload any, exclude string) {
	msg, err := newMessage(room, event, payload, exclude)
	if err == nil {
		err = p.publish(msg)
	}
	if err != nil {
		p.logger.Warn("presence broadcast failed",
			slog.String("room", room),
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func sortKeys(keys []presenceKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].TaskID != keys[j].TaskID {
			return keys[i].TaskID < keys[j].TaskID
		}
		return keys[i].Field < keys[j].Field
	})
}
