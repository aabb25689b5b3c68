package realtime

import (
	"sort"
	"sync"
)

// Rooms tracks which connections joined which broadcast groups.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]*Conn   // room -> conn id -> conn
	joined  map[string]map[string]struct{} // conn id -> rooms
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[string]*Conn),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Join adds c to room. It reports whether membership changed; joining twice
// is a no-op. Closed connections cannot join.
func (r *Rooms) Join(c *Conn, room string) bool {
	if c.State() != StateAuthenticated {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[room]
	if !ok {
		m = make(map[string]*Conn)
		r.members[room] = m
	}
	if _, exists := m[c.ID]; exists {
		return false
	}
	m[c.ID] = c

	j, ok := r.joined[c.ID]
	if !ok {
		j = make(map[string]struct{})
		r.joined[c.ID] = j
	}
	j[room] = struct{}{}
	return true
}

// Leave removes c from room. Leaving a room that was never joined is a no-op.
func (r *Rooms) Leave(c *Conn, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(c.ID, room)
}

// LeaveAll drops every membership of c and returns the rooms it left, sorted.
func (r *Rooms) LeaveAll(c *Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for room := range r.joined[c.ID] {
		left = append(left, room)
	}
	sort.Strings(left)
	for _, room := range left {
		r.leaveLocked(c.ID, room)
	}
	return left
}

func (r *Rooms) leaveLocked(connID, room string) bool {
	m, ok := r.members[room]
	if !ok {
		return false
	}
	if _, exists := m[connID]; !exists {
		return false
	}
	delete(m, connID)
	if len(m) == 0 {
		delete(r.members, room)
	}

	if j, ok := r.joined[connID]; ok {
		delete(j, room)
		if len(j) == 0 {
			delete(r.joined, connID)
		}
	}
	return true
}

func (r *Rooms) Joined(c *Conn, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[room][c.ID]
	return ok
}

// Members returns a snapshot of the connections in room.
func (r *Rooms) Members(room string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.members[room]
	out := make([]*Conn, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// RoomsOf returns the rooms a connection joined, sorted.
func (r *Rooms) RoomsOf(c *Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.joined[c.ID]))
	for room := range r.joined[c.ID] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}
