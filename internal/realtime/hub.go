package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"taskflow/pkg/protocol"
)

// MembershipChecker decides whether a user may join a project's room.
type MembershipChecker interface {
	IsMember(ctx context.Context, projectID protocol.ID, userID string) (bool, error)
}

type Options struct {
	// Backbone defaults to in-process delivery.
	Backbone Backbone
	// Members is consulted on every project:join. Nil admits every join.
	Members MembershipChecker
	Logger  *slog.Logger
}

// Hub owns the live connections of this process, their room memberships and
// the presence table, and routes inbound client messages to them.
type Hub struct {
	rooms    *Rooms
	presence *Presence
	backbone Backbone
	members  MembershipChecker
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

func NewHub(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backbone := opts.Backbone
	if backbone == nil {
		backbone = NewLocalBackbone()
	}

	h := &Hub{
		rooms:    NewRooms(),
		backbone: backbone,
		members:  opts.Members,
		logger:   logger,
		conns:    make(map[string]*Conn),
	}
	h.presence = NewPresence(h.publish, logger)
	return h
}

// Start connects the hub to its backbone.
func (h *Hub) Start(ctx context.Context) error {
	return h.backbone.Start(ctx, h.deliver)
}

func (h *Hub) Rooms() *Rooms { return h.rooms }

func (h *Hub) Presence() *Presence { return h.presence }

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	n := len(h.conns)
	h.mu.Unlock()

	h.logger.Debug("socket connected",
		slog.String("conn_id", c.ID),
		slog.String("user_id", c.Identity.ID),
		slog.Int("connections", n),
	)
}

// Unregister runs disconnect cleanup: every presence entry the connection
// owns is released (one editing:inactive each) and every room is left.
// Safe to call more than once.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	_, ok := h.conns[c.ID]
	delete(h.conns, c.ID)
	h.mu.Unlock()
	if !ok {
		return
	}

	c.Close()
	released := h.presence.ReleaseConn(c.ID)
	left := h.rooms.LeaveAll(c)

	h.logger.Debug("socket disconnected",
		slog.String("conn_id", c.ID),
		slog.String("user_id", c.Identity.ID),
		slog.Int("presence_released", released),
		slog.Int("rooms_left", len(left)),
	)
}

func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Handle dispatches one decoded client message.
func (h *Hub) Handle(ctx context.Context, c *Conn, msg protocol.Inbound) {
	if c.State() != StateAuthenticated {
		return
	}

	switch m := msg.(type) {
	case protocol.JoinProject:
		h.join(ctx, c, m.ProjectID)
	case protocol.LeaveProject:
		h.leave(c, m.ProjectID)
	case protocol.StartEditing:
		if !h.rooms.Joined(c, protocol.ProjectRoom(m.ProjectID)) {
			h.logger.Debug("editing:start outside joined room", slog.String("conn_id", c.ID), slog.String("project_id", m.ProjectID.String()))
			return
		}
		h.presence.Start(c, m.ProjectID, m.TaskID, m.Field)
	case protocol.StopEditing:
		h.presence.Stop(c, m.TaskID, m.Field)
	default:
		h.logger.Warn("unhandled inbound message", slog.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (h *Hub) join(ctx context.Context, c *Conn, projectID protocol.ID) {
	if h.members != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		ok, err := h.members.IsMember(ctx, projectID, c.Identity.ID)
		cancel()
		if err != nil {
			h.logger.Warn("membership check failed",
				slog.String("project_id", projectID.String()),
				slog.String("user_id", c.Identity.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		if !ok {
			h.logger.Info("project:join denied",
				slog.String("project_id", projectID.String()),
				slog.String("user_id", c.Identity.ID),
			)
			return
		}
	}

	room := protocol.ProjectRoom(projectID)
	h.presence.WithSnapshot(projectID, func(editors []protocol.EditingActive) {
		h.rooms.Join(c, room)
		frame, err := protocol.Encode(protocol.EventPresenceSync, protocol.PresenceSync{
			ProjectID: projectID,
			Editors:   editors,
		})
		if err != nil {
			h.logger.Error("encode presence sync", slog.String("error", err.Error()))
			return
		}
		if !c.enqueue(frame) {
			h.slowConsumer(c)
		}
	})
}

func (h *Hub) leave(c *Conn, projectID protocol.ID) {
	if !h.rooms.Leave(c, protocol.ProjectRoom(projectID)) {
		return
	}
	h.presence.ReleaseProject(c.ID, projectID)
}

// Emit publishes a mutation broadcast to a room.
func (h *Hub) Emit(ctx context.Context, room, event string, payload any) error {
	msg, err := newMessage(room, event, payload, "")
	if err != nil {
		return err
	}
	return h.backbone.Publish(ctx, msg)
}

func (h *Hub) publish(msg Message) error {
	return h.backbone.Publish(context.Background(), msg)
}

// deliver hands a backbone message to the local members of its room.
func (h *Hub) deliver(msg Message) {
	members := h.rooms.Members(msg.Room)
	if len(members) == 0 {
		return
	}

	frame, err := json.Marshal(protocol.Frame{Event: msg.Event, Data: msg.Data})
	if err != nil {
		h.logger.Error("encode room frame", slog.String("event", msg.Event), slog.String("error", err.Error()))
		return
	}

	for _, c := range members {
		if c.ID == msg.Exclude {
			continue
		}
		if !c.enqueue(frame) {
			h.slowConsumer(c)
		}
	}
}

// slowConsumer closes a connection whose send queue overflowed; its socket
// writer then shuts the transport and the reader unregisters it.
func (h *Hub) slowConsumer(c *Conn) {
	if c.State() == StateClosed {
		return
	}
	h.logger.Warn("closing slow socket consumer", slog.String("conn_id", c.ID), slog.String("user_id", c.Identity.ID))
	c.Close()
}

// Close disconnects every connection and stops the backbone.
func (h *Hub) Close() error {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.Unregister(c)
	}
	return h.backbone.Close()
}
