package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/pkg/protocol"
)

type emitted struct {
	room, event string
	body        map[string]any
}

type capturePublisher struct {
	got []emitted
}

func (p *capturePublisher) Emit(_ context.Context, room, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return err
	}
	p.got = append(p.got, emitted{room: room, event: event, body: body})
	return nil
}

type failingPublisher struct{ err error }

func (p failingPublisher) Emit(context.Context, string, string, any) error { return p.err }

type panickingPublisher struct{}

func (panickingPublisher) Emit(context.Context, string, string, any) error { panic("boom") }

var fixed = time.UnixMilli(1_700_000_000_123)

func newCapture() (*Broadcaster, *capturePublisher) {
	pub := &capturePublisher{}
	b := New(pub, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	b.now = func() time.Time { return fixed }
	return b, pub
}

func TestNestedEnvelopes(t *testing.T) {
	ctx := context.Background()
	task := map[string]any{"id": "t1", "title": "Write docs"}

	cases := []struct {
		name  string
		call  func(b *Broadcaster)
		event string
		key   string
	}{
		{"task created", func(b *Broadcaster) { b.TaskCreated(ctx, "42", task, "7") }, "task:created", "task"},
		{"task updated", func(b *Broadcaster) { b.TaskUpdated(ctx, "42", task, "7") }, "task:updated", "task"},
		{"column created", func(b *Broadcaster) { b.ColumnCreated(ctx, "42", task, "7") }, "column:created", "column"},
		{"column updated", func(b *Broadcaster) { b.ColumnUpdated(ctx, "42", task, "7") }, "column:updated", "column"},
		{"comment created", func(b *Broadcaster) { b.CommentCreated(ctx, "42", "t1", task, "7") }, "comment:created", "comment"},
		{"comment updated", func(b *Broadcaster) { b.CommentUpdated(ctx, "42", "t1", task, "7") }, "comment:updated", "comment"},
		{"attachment uploaded", func(b *Broadcaster) { b.AttachmentUploaded(ctx, "42", "t1", task, "7") }, "attachment:uploaded", "attachment"},
		{"activity logged", func(b *Broadcaster) { b.ActivityLogged(ctx, "42", task, "7") }, "activity:logged", "activity"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, pub := newCapture()
			tc.call(b)

			require.Len(t, pub.got, 1)
			got := pub.got[0]
			assert.Equal(t, "project:42", got.room)
			assert.Equal(t, tc.event, got.event)
			assert.Equal(t, "42", got.body["projectId"])
			assert.Equal(t, task, got.body[tc.key])
			assert.Equal(t, map[string]any{"userId": "7", "timestamp": float64(fixed.UnixMilli())}, got.body["meta"])
		})
	}
}

func TestFlattenedEnvelopes(t *testing.T) {
	ctx := context.Background()

	t.Run("task moved", func(t *testing.T) {
		b, pub := newCapture()
		b.TaskMoved(ctx, "42", "t1", "c1", "c2", 3, "7")

		require.Len(t, pub.got, 1)
		body := pub.got[0].body
		assert.Equal(t, "task:moved", pub.got[0].event)
		assert.Equal(t, "t1", body["taskId"])
		assert.Equal(t, "c1", body["fromColumnId"])
		assert.Equal(t, "c2", body["toColumnId"])
		assert.Equal(t, float64(3), body["order"])
		assert.Equal(t, "7", body["userId"])
	})

	t.Run("task reordered", func(t *testing.T) {
		b, pub := newCapture()
		b.TaskReordered(ctx, "42", "c1", []protocol.Position{{ID: "t2", Order: 0}, {ID: "t1", Order: 1}}, "7")

		require.Len(t, pub.got, 1)
		body := pub.got[0].body
		assert.Equal(t, "c1", body["columnId"])
		assert.Equal(t, []any{
			map[string]any{"id": "t2", "order": float64(0)},
			map[string]any{"id": "t1", "order": float64(1)},
		}, body["tasks"])
	})

	t.Run("deletions", func(t *testing.T) {
		b, pub := newCapture()
		b.TaskDeleted(ctx, "42", "t1", "c1", "7")
		b.ColumnDeleted(ctx, "42", "c1", "7")
		b.ColumnReordered(ctx, "42", []protocol.Position{{ID: "c1", Order: 0}}, "7")
		b.CommentDeleted(ctx, "42", "t1", "m1", "7")
		b.AttachmentDeleted(ctx, "42", "t1", "a1", "7")

		require.Len(t, pub.got, 5)
		assert.Equal(t, "c1", pub.got[0].body["columnId"])
		assert.Equal(t, "c1", pub.got[1].body["columnId"])
		assert.Equal(t, "m1", pub.got[3].body["commentId"])
		assert.Equal(t, "a1", pub.got[4].body["attachmentId"])
		for _, e := range pub.got {
			assert.Equal(t, "project:42", e.room)
			assert.Equal(t, "7", e.body["userId"])
		}
	})
}

func TestBroadcastFailuresAreSwallowed(t *testing.T) {
	var logs bytes.Buffer
	b := New(failingPublisher{err: errors.New("transport unreachable")}, slog.New(slog.NewTextHandler(&logs, nil)))

	assert.NotPanics(t, func() {
		b.TaskCreated(context.Background(), "42", map[string]any{"id": "t1"}, "7")
	})
	assert.Contains(t, logs.String(), "broadcast failed")
	assert.Contains(t, logs.String(), "transport unreachable")
	assert.Contains(t, logs.String(), "event=task:created")
}

func TestBroadcastRecoversPublisherPanic(t *testing.T) {
	var logs bytes.Buffer
	b := New(panickingPublisher{}, slog.New(slog.NewTextHandler(&logs, nil)))

	assert.NotPanics(t, func() {
		b.ColumnDeleted(context.Background(), "42", "c1", "7")
	})
	assert.Contains(t, logs.String(), "publisher panic: boom")
}

func TestBroadcastMarshalFailureIsSwallowed(t *testing.T) {
	b, pub := newCapture()
	assert.NotPanics(t, func() {
		b.TaskUpdated(context.Background(), "42", map[string]any{"bad": make(chan int)}, "7")
	})
	assert.Empty(t, pub.got)
}

func TestNilPublisherDefaultsToNop(t *testing.T) {
	b := New(nil, nil)
	assert.NotPanics(t, func() {
		b.ActivityLogged(context.Background(), "1", nil, "")
	})
}
