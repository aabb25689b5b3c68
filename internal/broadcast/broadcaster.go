// Package broadcast announces committed board mutations to the project's
// realtime room.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"taskflow/pkg/protocol"
)

// Publisher fans a payload out to every connection in a room.
type Publisher interface {
	Emit(ctx context.Context, room, event string, payload any) error
}

// NopPublisher drops everything. Used when no hub is wired.
type NopPublisher struct{}

func (NopPublisher) Emit(context.Context, string, string, any) error { return nil }

// Broadcaster has one method per event kind. None of them return an error:
// by the time a broadcast is attempted the write it describes has committed,
// so delivery failures are logged and swallowed.
type Broadcaster struct {
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
}

func New(pub Publisher, logger *slog.Logger) *Broadcaster {
	if pub == nil {
		pub = NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{pub: pub, logger: logger, now: time.Now}
}

func (b *Broadcaster) meta(userID string) protocol.Meta {
	return protocol.Meta{UserID: userID, Timestamp: b.now().UnixMilli()}
}

func (b *Broadcaster) TaskCreated(ctx context.Context, projectID protocol.ID, task any, userID string) {
	b.emit(ctx, projectID, protocol.EventTaskCreated, protocol.TaskEnvelope{Task: task, ProjectID: projectID, Meta: b.meta(userID)})
}

func (b *Broadcaster) TaskUpdated(ctx context.Context, projectID protocol.ID, task any, userID string) {
	b.emit(ctx, projectID, protocol.EventTaskUpdated, protocol.TaskEnvelope{Task: task, ProjectID: projectID, Meta: b.meta(userID)})
}

func (b *Broadcaster) TaskDeleted(ctx context.Context, projectID, taskID, columnID protocol.ID, userID string) {
	b.emit(ctx, projectID, protocol.EventTaskDeleted, protocol.TaskDeleted{
		TaskID:    taskID,
		ColumnID:  columnID,
		ProjectID: projectID,
		UserID:    userID,
		Meta:      b.meta(userID),
	})
}

func (b *Broadcaster) TaskMoved(ctx context.Context, projectID, taskID, fromColumnID, toColumnID protocol.ID, order int, userID string) {
	b.emit(ctx, projectID, protocol.EventTaskMoved, protocol.TaskMoved{
		TaskID:       taskID,
		FromColumnID: fromColumnID,
		ToColumnID:   toColumnID,
		Order:        order,
		ProjectID:    projectID,
		UserID:       userID,
		Meta:         b.meta(userID),
	})
}

func (b *Broadcaster) TaskReordered(ctx context.Context, projectID, columnID protocol.ID, tasks []protocol.Position, userID string) {
	b.emit(ctx, projectID, protocol.EventTaskReordered, protocol.TaskReordered{
		ColumnID:  columnID,
		Tasks:     tasks,
		ProjectID: projectID,
		UserID:    userID,
		Meta:      b.meta(userID),
	})
}

func (b *Broadcaster) ColumnCreated(ctx context.Context, projectID protocol.ID, column any, userID string) {
	b.emit(ctx, projectID, protocol.EventColumnCreated, protocol.ColumnEnvelope{Column: column, ProjectID: projectID, Meta: b.meta(userID)})
}

func (b *Broadcaster) ColumnUpdated(ctx context.Context, projectID protocol.ID, column any, userID string) {
	b.emit(ctx, projectID, protocol.EventColumnUpdated, protocol.ColumnEnvelope{Column: column, ProjectID: projectID, Meta: b.meta(userID)})
}

func (b *Broadcaster) ColumnDeleted(ctx context.Context, projectID, columnID protocol.ID, userID string) {
	b.emit(ctx, projectID, protocol.EventColumnDeleted, protocol.ColumnDeleted{
		ColumnID:  columnID,
		ProjectID: projectID,
		UserID:    userID,
		Meta:      b.meta(userID),
	})
}

func (b *Broadcaster) ColumnReordered(ctx context.Context, projectID protocol.ID, columns []protocol.Position, userID string) {
	b.emit(ctx, projectID, protocol.EventColumnReordered, protocol.ColumnReordered{
		Columns:   columns,
		ProjectID: projectID,
		UserID:    userID,
		Meta:      b.meta(userID),
	})
}

func (b *Broadcaster) CommentCreated(ctx context.Context, projectID, taskID protocol.ID, comment any, userID string) {
	b.emit(ctx, projectID, protocol.EventCommentCreated, protocol.CommentEnvelope{
		Comment: comment, TaskID: taskID, ProjectID: projectID, Meta: b.meta(userID),
	})
}

func (b *Broadcaster) CommentUpdated(ctx context.Context, projectID, taskID protocol.ID, comment any, userID string) {
	b.emit(ctx, projectID, protocol.EventCommentUpdated, protocol.CommentEnvelope{
		Comment: comment, TaskID: taskID, ProjectID: projectID, Meta: b.meta(userID),
	})
}

func (b *Broadcaster) CommentDeleted(ctx context.Context, projectID, taskID, commentID protocol.ID, userID string) {
	b.emit(ctx, projectID, protocol.EventCommentDeleted, protocol.CommentDeleted{
		CommentID: commentID,
		TaskID:    taskID,
		ProjectID: projectID,
		UserID:    userID,
		Meta:      b.meta(userID),
	})
}

func (b *Broadcaster) AttachmentUploaded(ctx context.Context, projectID, taskID protocol.ID, attachment any, userID string) {
	b.emit(ctx, projectID, protocol.EventAttachmentUploaded, protocol.AttachmentEnvelope{
		Attachment: attachment, TaskID: taskID, ProjectID: projectID, Meta: b.meta(userID),
	})
}

func (b *Broadcaster) AttachmentDeleted(ctx context.Context, projectID, taskID, attachmentID protocol.ID, userID string) {
	b.emit(ctx, projectID, protocol.EventAttachmentDeleted, protocol.AttachmentDeleted{
		AttachmentID: attachmentID,
		TaskID:       taskID,
		ProjectID:    projectID,
		UserID:       userID,
		Meta:         b.meta(userID),
	})
}

// ActivityLogged announces an activity entry. An empty userID marks a
// system-generated entry.
func (b *Broadcaster) ActivityLogged(ctx context.Context, projectID protocol.ID, activity any, userID string) {
	b.emit(ctx, projectID, protocol.EventActivityLogged, protocol.ActivityEnvelope{Activity: activity, ProjectID: projectID, Meta: b.meta(userID)})
}

func (b *Broadcaster) emit(ctx context.Context, projectID protocol.ID, event string, payload any) {
	room := protocol.ProjectRoom(projectID)
	defer func() {
		if r := recover(); r != nil {
			b.fail(room, event, fmt.Errorf("publisher panic: %v", r))
		}
	}()

	if err := b.pub.Emit(ctx, room, event, payload); err != nil {
		b.fail(room, event, err)
	}
}

func (b *Broadcaster) fail(room, event string, err error) {
	b.logger.Warn("broadcast failed",
		slog.String("room", room),
		slog.String("event", event),
		slog.String("error", err.Error()),
	)
}
