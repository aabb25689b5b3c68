package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/auth"
	"taskflow/internal/testutil"
	"taskflow/pkg/protocol"
)

type tokenAuth map[string]auth.Identity

func (m tokenAuth) Authenticate(_ context.Context, credential string) (auth.Identity, error) {
	id, ok := m[credential]
	if !ok {
		return auth.Identity{}, auth.ErrUnauthorized
	}
	return id, nil
}

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := newTestHub(t, Options{})
	srv := NewServer(h, tokenAuth{"tok-alice": alice, "tok-bob": bob}, ServerOptions{
		SendQueue:    16,
		PingInterval: time.Second,
	}, testutil.Logger())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return h, ts
}

func dial(t *testing.T, ts *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func readFrame(t *testing.T, ws *websocket.Conn) protocol.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	f, err := protocol.Decode(data)
	require.NoError(t, err)
	return f
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := protocol.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, raw))
}

func TestServerRejectsBeforeUpgrade(t *testing.T) {
	h, ts := newTestServer(t)

	for _, token := range []string{"", "bogus"} {
		ws, resp, err := dial(t, ts, token)
		require.Error(t, err)
		assert.Nil(t, ws)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	assert.Zero(t, h.Connections())
}

func TestServerQueryTokenFallback(t *testing.T) {
	h, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?token=tok-bob"

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return h.Connections() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServerPresenceRoundTrip(t *testing.T) {
	h, ts := newTestServer(t)

	wsA, _, err := dial(t, ts, "tok-alice")
	require.NoError(t, err)
	defer wsA.Close()
	wsB, _, err := dial(t, ts, "tok-bob")
	require.NoError(t, err)
	defer wsB.Close()

	send(t, wsA, protocol.EventProjectJoin, map[string]any{"projectId": 42})
	assert.Equal(t, protocol.EventPresenceSync, readFrame(t, wsA).Event)
	send(t, wsB, protocol.EventProjectJoin, map[string]any{"projectId": "42"})
	assert.Equal(t, protocol.EventPresenceSync, readFrame(t, wsB).Event)

	send(t, wsA, protocol.EventEditingStart, map[string]any{"projectId": "42", "taskId": "t1", "field": "title"})
	f := readFrame(t, wsB)
	require.Equal(t, protocol.EventEditingActive, f.Event)
	assert.Equal(t, "1", decodeData[protocol.EditingActive](t, f).User.ID)

	// unknown and malformed frames are dropped without closing the socket
	require.NoError(t, wsA.WriteMessage(websocket.TextMessage, []byte(`{"event":"nope"}`)))
	require.NoError(t, wsA.WriteMessage(websocket.TextMessage, []byte(`not json`)))

	require.NoError(t, wsA.Close())
	f = readFrame(t, wsB)
	require.Equal(t, protocol.EventEditingInactive, f.Event)
	assert.Equal(t, protocol.ID("t1"), decodeData[protocol.EditingInactive](t, f).TaskID)

	require.Eventually(t, func() bool { return h.Connections() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServerCheckOrigin(t *testing.T) {
	s := NewServer(nil, nil, ServerOptions{AllowedOrigins: []string{"https://app.example.com"}}, nil)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, s.checkOrigin(r))

	r.Header.Set("Origin", "https://app.example.com")
	assert.True(t, s.checkOrigin(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, s.checkOrigin(r))
}
