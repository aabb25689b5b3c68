package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"taskflow/internal/auth"
	"taskflow/internal/board"
	"taskflow/internal/broadcast"
	"taskflow/pkg/protocol"
)

// BoardHandler serves board mutations. Each one is announced to the
// project's room only after its transaction committed; a failed announcement
// never changes the response.
type BoardHandler struct {
	Svc       *board.Service
	Broadcast *broadcast.Broadcaster
	Logger    *slog.Logger
}

// actor returns the caller and a context for post-commit broadcasts that
// outlives the request.
func actor(r *http.Request) (uint64, string, context.Context) {
	uid, _ := auth.UserIDFromContext(r.Context())
	return uid, board.ID(uid).String(), context.WithoutCancel(r.Context())
}

func (h *BoardHandler) logged(ctx context.Context, act *board.Activity, userID string) {
	if act == nil {
		return
	}
	h.Broadcast.ActivityLogged(ctx, board.ID(act.ProjectID), act, userID)
}

type nameReq struct {
	Name string `json:"name"`
}

func (h *BoardHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	uid, _, _ := actor(r)

	var req nameReq
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Svc.CreateProject(r.Context(), uid, req.Name)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type memberReq struct {
	UserID protocol.ID `json:"userId"`
}

func (h *BoardHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	uid, user, ctx := actor(r)
	pid, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req memberReq
	if !decode(w, r, &req) {
		return
	}
	memberID, ok := board.ParseID(req.UserID)
	if !ok {
		http.Error(w, "invalid userId", http.StatusBadRequest)
		return
	}

	m, act, err := h.Svc.AddMember(r.Context(), uid, pid, memberID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	h.logged(ctx, act, user)
	writeJSON(w, http.StatusCreated, m)
}

func (h *BoardHandler) CreateColumn(w http.ResponseWriter, r *http.Request) {
	uid, user, ctx := actor(r)
	pid, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req nameReq
	if !decode(w, r, &req) {
		return
	}
	c, act, err := h.Svc.CreateColumn(r.Context(), uid, pid, req.Name)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	h.Broadcast.ColumnCreated(ctx, board.ID(c.ProjectID), c, user)
	h.logged(ctx, act, user)
	writeJSON(w, http.StatusCreated, c)
}

func (h *BoardHandler) RenameColumn(w http.ResponseWriter, r *http.Request) {
	uid, user, ctx := actor(r)
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req nameReq
	if !decode(w, r, &req) {
		return
	}
	c, act, err := h.Svc.RenameColumn(r.Context(), uid, id, req.Name)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	h.Broadcast.ColumnUpdated(ctx, board.ID(c.ProjectID), c, user)
	h.logged(ctx, act, user)
	writeJSON(w, http.StatusOK, c)
}

func (h *BoardHandler) DeleteColumn(w http.ResponseWriter, r *http.Request) {
	uid, user, ctx := actor(r)
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	c, act, err := h.Svc.DeleteColumn(r.Context(), uid, id)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	h.Broadcast.ColumnDeleted(ctx, board.ID(c.ProjectID), board.ID(c.ID), user)
	h.logged(ctx, act, user)
	w.WriteHeader(http.StatusNoContent)
}

type columnOrderReq struct {
	ColumnIDs []protocol.ID `json:"columnIds"`
}

func (h *BoardHandler) ReorderColumns(w http.ResponseWriter, r *http.Request) {
	uid, user, ctx := actor(r)
	pid, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req columnOrderReq
	if !decode(w, r, &req) {
		return
	}
	ids, ok := parseIDs(req.ColumnIDs)
	if !ok {
		http.Error(w, "invalid columnIds", http.StatusBadRequest)
		return
	}

	order, act, err := h.Svc.ReorderColumns(r.Context(), uid, pid, ids)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	h.Broadcast.ColumnReordered(ctx, board.ID(order.ProjectID), order.Positions, user)
	h.logged(ctx, act, user)
	writeJSON(w, http.StatusOK, map[string]any{"columns": order.Positions})
}

type createTaskReq struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    string       `json:"priority"`
	AssigneeID  *protocol.ID `json:"assigneeId"`
	Labels      []string     `json:"labels"`
	DueDate     *time.Time   `json:"dueDate"`
}

func (h *BoardHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	uid, user, ctx := actor(r)
	columnID, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req createTaskReq
	if !decode(w, r, &req) {
		return
	}
	in := board.TaskInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Labels:      req.Labels,
		DueAt:       req.DueDate,
	}
	if req.AssigneeID != nil && *req.AssigneeID != "" {
		id, ok := board.ParseID(*req.AssigneeID)
		if !ok {
			http.Error(w, "invalid assigneeId", http.StatusBadRequest)
			return
		}
		in.AssigneeID = &id
	}

	t, act, err := h.Svc.CreateTask(r.Context(), uid, columnID, in)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	h.Broadcast.TaskCreated(ctx, board.ID(t.ProjectID), t, user)
	h.logged(ctx, act, user)
	writeJSON(w, http.StatusCreated, t)
}

// nullable tells an absent field apart from an explicit null.
type nullable[T any] struct {
	Set   bool
	Null  bool
	Value T
}

func (n *nullable[T]) UnmarshalJSON(b []byte) error {
	n.Set = true
	if strings.TrimSpace(string(b)) == "null" {
		n.Null = true
		return nil
	}
	return json.Unmarshal(b, &n.Value)
}

type updateTaskReq struct {
	Title       *string               `json:"title"`
	Description *string               `json:"description"`
	Priority    *string               `json:"priority"`
	AssigneeID  nullable[protocol.ID] `json:"assigneeId"`
	Labels      *[]string             `json:"labels"`
	DueDate     nullable[time.Time]   `json:"dueDate"`
}

func (h *BoardHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	uid, user, ctx := actor(r)
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req updateTaskReq
	if !decode(w, r, &req) {
		return
	}
	patch := board.TaskPatch{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Labels:      req.Labels,
	}
	if req.AssigneeID.Set {
		if req.AssigneeID.Null {
			patch.ClearAssignee = true
		} else {
			aid, ok := board.ParseID(req.AssigneeID.Value)
			if !ok {
				http.Error(w, "invalid assigneeId", http.StatusBadRequest)
				return
			}
			patch.AssigneeID = &aid
		}
	}
	if req.DueDate.Set {
		if req.DueDate.Null {
			patch.ClearDueAt = true
		} else {
			patch.DueAt = &req.DueDate.Value
		}
	}

	t, act, err := h.Svc.UpdateTask(r.Context(), uid, id, patch)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	h.Broadcast.TaskUpdated(ctx, board.ID(t.ProjectID), t, user)
	h.logged(ctx, act, user)
	writeJSON(w, http.StatusOK, t)
}

type moveTaskReq struct {
	ColumnID protocol.ID `json:"columnId"`
	Order    int         `json:"order"`
}

func (h *BoardHandler) MoveTask(w http.ResponseWriter, r *http.Request) {
	uid, user, ctx := actor(r)
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req moveTaskReq
	if !decode(w, r, &req) {
		return
	}
	to, ok := board.ParseID(req.ColumnID)
	if !ok {
		http.Error(w, "invalid columnId", http.StatusBadRequest)
		return
	}

	m, act, err := h.Svc.MoveTask(r.Context(), uid, id, to, req.Order)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	t := m.Task
	h.Broadcast.TaskMoved(ctx, board.ID(t.ProjectID), board.ID(t.ID), board.ID(m.FromColumnID), board.ID(t.ColumnID), t.Position, user)
	h.logged(ctx, act, user)
	writeJSON(w, http.StatusOK, t)
}

type taskOrderReq struct {
	TaskIDs []protocol.ID `json:"taskIds"`
}

func (h *BoardHandler) ReorderTasks(w http.ResponseWriter, r *http.Request) {
	uid, user, ctx := actor(r)
	columnID, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req taskOrderReq
	if !decode(w, r, &req) {
		return
	}
	ids, ok := parseIDs(req.TaskIDs)
	if !ok {
		http.Error(w, "invalid taskIds", http.StatusBadRequest)
		return
	}

	order, act, err := h.Svc.ReorderTasks(r.Context(), uid, columnID, ids)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	h.Broadcast.TaskReordered(ctx, board.ID(order.ProjectID), board.ID(order.ColumnID), order.Positions, user)
	h.logged(ctx, act, user)
	writeJSON(w, http.StatusOK, map[string]any{"tasks": order.Positions})
}

func (h *BoardHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	uid, user, ctx := actor(r)
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	t, act, err := h.Svc.DeleteTask(r.Context(), uid, id)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	h.Broadcast.TaskDeleted(ctx, board.ID(t.ProjectID), board.ID(t.ID), board.ID(t.ColumnID), user)
	h.logged(ctx, act, user)
	w.WriteHeader(http.StatusNoContent)
}

type commentReq struct {
	Body string `json:"body"`
}

func (h *BoardHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	uid, user, ctx := actor(r)
	taskID, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req commentReq
	if !decode(w, r, &req) {
		return
	}
	c, act, err := h.Svc.AddComment(r.Context(), uid, taskID, req.Body)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	h.Broadcast.CommentCreated(ctx, board.ID(c.ProjectID), board.ID(c.TaskID), c, user)
	h.logged(ctx, act, user)
	writeJSON(w, http.StatusCreated, c)
}

func (h *BoardHandler) EditComment(w http.ResponseWriter, r *http.Request) {
	uid, user, ctx := actor(r)
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req commentReq
	if !decode(w, r, &req) {
		return
	}
	c, act, err := h.Svc.EditComment(r.Context(), uid, id, req.Body)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	h.Broadcast.CommentUpdated(ctx, board.ID(c.ProjectID), board.ID(c.TaskID), c, user)
	h.logged(ctx, act, user)
	writeJSON(w, http.StatusOK, c)
}

func (h *BoardHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	uid, user, ctx := actor(r)
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	c, act, err := h.Svc.DeleteComment(r.Context(), uid, id)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	h.Broadcast.CommentDeleted(ctx, board.ID(c.ProjectID), board.ID(c.TaskID), board.ID(c.ID), user)
	h.logged(ctx, act, user)
	w.WriteHeader(http.StatusNoContent)
}

func parseIDs(in []protocol.ID) ([]uint64, bool) {
	out := make([]uint64, 0, len(in))
	for _, raw := range in {
		id, ok := board.ParseID(raw)
		if !ok {
			return nil, false
		}
		out = append(out, id)
	}
	return out, true
}
