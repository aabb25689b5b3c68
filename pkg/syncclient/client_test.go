package syncclient_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/auth"
	"taskflow/internal/broadcast"
	"taskflow/internal/realtime"
	"taskflow/internal/testutil"
	"taskflow/pkg/protocol"
	"taskflow/pkg/syncclient"
)

type tokenAuth map[string]auth.Identity

func (m tokenAuth) Authenticate(_ context.Context, credential string) (auth.Identity, error) {
	id, ok := m[credential]
	if !ok {
		return auth.Identity{}, auth.ErrUnauthorized
	}
	return id, nil
}

type syncedCache struct {
	mu   sync.Mutex
	keys []string
}

func (c *syncedCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
}

func (c *syncedCache) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.keys...)
}

type session struct {
	client *syncclient.Client
	cache  *syncedCache
	view   *syncclient.PresenceView
}

func startServer(t *testing.T) (*realtime.Hub, string) {
	t.Helper()
	hub := realtime.NewHub(realtime.Options{Logger: testutil.Logger()})
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { _ = hub.Close() })

	authn := tokenAuth{
		"tok-alice": {ID: "1", Name: "Alice"},
		"tok-bob":   {ID: "2", Name: "Bob"},
	}
	srv := realtime.NewServer(hub, authn, realtime.ServerOptions{SendQueue: 16}, testutil.Logger())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return hub, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func open(t *testing.T, url, token, viewer string) *session {
	t.Helper()
	cache := &syncedCache{}
	reducer := syncclient.NewReducer(viewer, cache, nil)

	client, err := syncclient.Dial(context.Background(), url, token, reducer, testutil.Logger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &session{client: client, cache: cache, view: reducer.Presence}
}

func TestClientEndToEnd(t *testing.T) {
	hub, url := startServer(t)
	alice := open(t, url, "tok-alice", "1")
	bob := open(t, url, "tok-bob", "2")

	require.NoError(t, alice.client.Join("42"))
	require.NoError(t, bob.client.Join("42"))
	require.Eventually(t, func() bool {
		return len(hub.Rooms().Members("project:42")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	b := broadcast.New(hub, testutil.Logger())

	b.TaskCreated(context.Background(), "42", map[string]any{"id": 5, "title": "Ship it"}, "1")
	require.Eventually(t, func() bool {
		return len(bob.cache.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"tasks:42", "task:5"}, bob.cache.snapshot())

	// alice's own task:created arrived before bob's comment and was skipped
	b.CommentCreated(context.Background(), "42", "5", map[string]any{"id": 9}, "2")
	require.Eventually(t, func() bool {
		return len(alice.cache.snapshot()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"comments:5"}, alice.cache.snapshot())

	require.NoError(t, alice.client.StartEditing("42", "5", protocol.FieldDescription))
	require.Eventually(t, func() bool {
		_, ok := bob.view.Editor("5", protocol.FieldDescription)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	editor, _ := bob.view.Editor("5", protocol.FieldDescription)
	assert.Equal(t, "Alice", editor.Name)

	require.NoError(t, alice.client.Close())
	require.Eventually(t, func() bool {
		_, ok := bob.view.Editor("5", protocol.FieldDescription)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientTakeoverLeavesNoStaleEditor(t *testing.T) {
	hub, url := startServer(t)
	alice := open(t, url, "tok-alice", "1")
	bob := open(t, url, "tok-bob", "2")

	require.NoError(t, alice.client.Join("42"))
	require.NoError(t, bob.client.Join("42"))
	require.Eventually(t, func() bool {
		return len(hub.Rooms().Members("project:42")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.client.StartEditing("42", "1", protocol.FieldTitle))
	require.Eventually(t, func() bool {
		_, ok := bob.view.Editor("1", protocol.FieldTitle)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// the server never tells bob about his own takeover
	require.NoError(t, bob.client.StartEditing("42", "1", protocol.FieldTitle))
	_, ok := bob.view.Editor("1", protocol.FieldTitle)
	assert.False(t, ok)
	require.Eventually(t, func() bool {
		e, ok := alice.view.Editor("1", protocol.FieldTitle)
		return ok && e.ID == "2"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.client.StopEditing("42", "1", protocol.FieldTitle))
	require.Eventually(t, func() bool {
		return alice.view.Len() == 0 && hub.Presence().Len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.client.Close())
	require.Eventually(t, func() bool {
		return len(hub.Rooms().Members("project:42")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, bob.view.Len())
}

func TestClientLateJoinerGetsPresenceSync(t *testing.T) {
	hub, url := startServer(t)
	alice := open(t, url, "tok-alice", "1")

	require.NoError(t, alice.client.Join("42"))
	require.Eventually(t, func() bool {
		return len(hub.Rooms().Members("project:42")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, alice.client.StartEditing("42", "5", protocol.FieldTitle))
	require.Eventually(t, func() bool { return hub.Presence().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	bob := open(t, url, "tok-bob", "2")
	require.NoError(t, bob.client.Join("42"))
	require.Eventually(t, func() bool {
		u, ok := bob.view.Editor("5", protocol.FieldTitle)
		return ok && u.ID == "1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDialRejectsBadToken(t *testing.T) {
	_, url := startServer(t)

	_, err := syncclient.Dial(context.Background(), url, "nope", syncclient.NewReducer("1", nil, nil), nil)
	assert.ErrorIs(t, err, syncclient.ErrUnauthorized)
}
