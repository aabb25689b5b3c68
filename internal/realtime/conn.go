package realtime

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"taskflow/internal/auth"
)

type ConnState int32

const (
	StateUnauthenticated ConnState = iota
	StateAuthenticated
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is one live socket session. It is created only after the handshake
// credential was accepted, so it starts Authenticated.
//
// The send queue is never closed; writers check Done instead, which keeps
// concurrent room deliveries safe against a closing connection.
type Conn struct {
	ID       string
	Identity auth.Identity

	state     atomic.Int32
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(identity auth.Identity, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = 64
	}
	c := &Conn{
		ID:       uuid.NewString(),
		Identity: identity,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
	c.state.Store(int32(StateAuthenticated))
	return c
}

func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// Outbound is drained by the connection's writer.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close moves the connection to Closed. Idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
}

// enqueue never blocks. It reports false when the connection is closed or its
// queue is full.
func (c *Conn) enqueue(frame []byte) bool {
	if c.State() != StateAuthenticated {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}
