package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	t.Run("join accepts numeric project id", func(t *testing.T) {
		msg, err := DecodeInbound(Frame{Event: EventProjectJoin, Data: json.RawMessage(`{"projectId":42}`)})
		require.NoError(t, err)
		assert.Equal(t, JoinProject{ProjectID: "42"}, msg)
	})

	t.Run("leave accepts string project id", func(t *testing.T) {
		msg, err := DecodeInbound(Frame{Event: EventProjectLeave, Data: json.RawMessage(`{"projectId":"42"}`)})
		require.NoError(t, err)
		assert.Equal(t, LeaveProject{ProjectID: "42"}, msg)
	})

	t.Run("editing start", func(t *testing.T) {
		msg, err := DecodeInbound(Frame{
			Event: EventEditingStart,
			Data:  json.RawMessage(`{"projectId":"42","taskId":"t1","field":"title"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, StartEditing{ProjectID: "42", TaskID: "t1", Field: FieldTitle}, msg)
	})

	t.Run("editing stop", func(t *testing.T) {
		msg, err := DecodeInbound(Frame{
			Event: EventEditingStop,
			Data:  json.RawMessage(`{"projectId":"42","taskId":7,"field":"dueDate"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, StopEditing{ProjectID: "42", TaskID: "7", Field: FieldDueDate}, msg)
	})

	cases := []struct {
		name  string
		frame Frame
		want  error
	}{
		{"unknown event", Frame{Event: "task:created", Data: json.RawMessage(`{}`)}, ErrUnknownEvent},
		{"missing data", Frame{Event: EventProjectJoin}, ErrInvalidPayload},
		{"empty project", Frame{Event: EventProjectJoin, Data: json.RawMessage(`{"projectId":""}`)}, ErrInvalidPayload},
		{"bad id type", Frame{Event: EventProjectJoin, Data: json.RawMessage(`{"projectId":true}`)}, ErrInvalidPayload},
		{"unsupported field", Frame{Event: EventEditingStart, Data: json.RawMessage(`{"projectId":"1","taskId":"t1","field":"color"}`)}, ErrInvalidPayload},
		{"missing task", Frame{Event: EventEditingStop, Data: json.RawMessage(`{"projectId":"1","field":"title"}`)}, ErrInvalidPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeInbound(tc.frame)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestEncodeDecodeFrame(t *testing.T) {
	raw, err := Encode(EventEditingInactive, EditingInactive{ProjectID: "42", TaskID: "t1", Field: FieldTitle})
	require.NoError(t, err)

	f, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, EventEditingInactive, f.Event)
	assert.JSONEq(t, `{"projectId":"42","taskId":"t1","field":"title"}`, string(f.Data))

	_, err = Decode([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEnvelopeRouting(t *testing.T) {
	raw, err := json.Marshal(TaskEnvelope{
		Task:      map[string]any{"id": 9, "title": "Ship it"},
		ProjectID: "42",
		Meta:      Meta{UserID: "3", Timestamp: 1700000000000},
	})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, ID("42"), env.ProjectID)
	assert.Equal(t, "3", env.Meta.UserID)
	assert.Equal(t, ID("9"), EntityID(env.Task))
	assert.Equal(t, ID(""), EntityID(env.Comment))
}

func TestProjectRoom(t *testing.T) {
	assert.Equal(t, "project:42", ProjectRoom("42"))
}
