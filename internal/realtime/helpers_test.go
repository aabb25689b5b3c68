package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"taskflow/internal/auth"
	"taskflow/internal/testutil"
	"taskflow/pkg/protocol"
)

var (
	alice = auth.Identity{ID: "1", Email: "alice@x.com", Name: "Alice", Avatar: "a.png"}
	bob   = auth.Identity{ID: "2", Email: "bob@x.com", Name: "Bob", Avatar: "b.png"}
	carol = auth.Identity{ID: "3", Email: "carol@x.com", Name: "Carol"}
)

func newTestHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testutil.Logger()
	}
	h := NewHub(opts)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func connect(h *Hub, id auth.Identity) *Conn {
	c := NewConn(id, 32)
	h.Register(c)
	return c
}

func joinProject(t *testing.T, h *Hub, c *Conn, projectID protocol.ID) {
	t.Helper()
	h.Handle(context.Background(), c, protocol.JoinProject{ProjectID: projectID})
	require.True(t, h.Rooms().Joined(c, protocol.ProjectRoom(projectID)))
}

// drain returns every frame currently queued for c.
func drain(t *testing.T, c *Conn) []protocol.Frame {
	t.Helper()
	var out []protocol.Frame
	for {
		select {
		case raw := <-c.Outbound():
			f, err := protocol.Decode(raw)
			require.NoError(t, err)
			out = append(out, f)
		default:
			return out
		}
	}
}

func events(frames []protocol.Frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Event)
	}
	return out
}

func decodeData[T any](t *testing.T, f protocol.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

type recorder struct {
	msgs []Message
}

func (r *recorder) publish(m Message) error {
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recorder) events() []string {
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Event)
	}
	return out
}
