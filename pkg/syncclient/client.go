package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"taskflow/pkg/protocol"
)

var ErrUnauthorized = errors.New("unauthorized")

const writeWait = 10 * time.Second

// Client is a websocket session with the board's realtime endpoint. Every
// server event is fed to the Reducer.
type Client struct {
	ws      *websocket.Conn
	reducer *Reducer
	logger  *slog.Logger

	writeMu sync.Mutex
}

// Dial opens a session authenticated with a bearer token. A rejected token
// yields ErrUnauthorized.
func Dial(ctx context.Context, url, token string, reducer *Reducer, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{ws: ws, reducer: reducer, logger: logger}, nil
}

func (c *Client) Join(projectID protocol.ID) error {
	return c.send(protocol.EventProjectJoin, protocol.JoinProject{ProjectID: projectID})
}

func (c *Client) Leave(projectID protocol.ID) error {
	if err := c.send(protocol.EventProjectLeave, protocol.LeaveProject{ProjectID: projectID}); err != nil {
		return err
	}
	if c.reducer != nil && c.reducer.Presence != nil {
		c.reducer.Presence.Forget(projectID)
	}
	return nil
}

func (c *Client) StartEditing(projectID, taskID protocol.ID, field protocol.Field) error {
	if err := c.send(protocol.EventEditingStart, protocol.StartEditing{ProjectID: projectID, TaskID: taskID, Field: field}); err != nil {
		return err
	}
	c.clearPresence(taskID, field)
	return nil
}

func (c *Client) StopEditing(projectID, taskID protocol.ID, field protocol.Field) error {
	if err := c.send(protocol.EventEditingStop, protocol.StopEditing{ProjectID: projectID, TaskID: taskID, Field: field}); err != nil {
		return err
	}
	c.clearPresence(taskID, field)
	return nil
}

// clearPresence drops the editor this client displaced; the field is its own now.
func (c *Client) clearPresence(taskID protocol.ID, field protocol.Field) {
	if c.reducer != nil && c.reducer.Presence != nil {
		c.reducer.Presence.Clear(taskID, field)
	}
}

// Run reads events until the connection ends or ctx is cancelled. Events
// the reducer cannot handle are logged and skipped.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping undecodable server frame", slog.String("error", err.Error()))
			continue
		}
		if c.reducer == nil {
			continue
		}
		if _, err := c.reducer.Apply(frame.Event, frame.Data); err != nil {
			c.logger.Warn("dropping server event", slog.String("event", frame.Event), slog.String("error", err.Error()))
		}
	}
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *Client) send(event string, data any) error {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}
