package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrBackboneClosed = errors.New("backbone closed")
	ErrBackboneFull   = errors.New("backbone queue full")
)

// Message is one room broadcast as it travels between instances.
type Message struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	Exclude string          `json:"exclude,omitempty"`
	Origin  string          `json:"origin,omitempty"`
}

func newMessage(room, event string, payload any, exclude string) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Message{Room: room, Event: event, Data: data, Exclude: exclude}, nil
}

// Backbone carries room messages to every instance's local connections.
type Backbone interface {
	Publish(ctx context.Context, msg Message) error
	// Start begins handing every published message, from any instance, to
	// deliver.
	Start(ctx context.Context, deliver func(Message)) error
	Close() error
}

// LocalBackbone delivers synchronously inside this process. Room order is the
// order in which Publish was called.
type LocalBackbone struct {
	mu      sync.RWMutex
	deliver func(Message)
	closed  bool
}

func NewLocalBackbone() *LocalBackbone {
	return &LocalBackbone{}
}

func (b *LocalBackbone) Start(_ context.Context, deliver func(Message)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliver = deliver
	return nil
}

func (b *LocalBackbone) Publish(_ context.Context, msg Message) error {
	b.mu.RLock()
	deliver, closed := b.deliver, b.closed
	b.mu.RUnlock()

	if closed {
		return ErrBackboneClosed
	}
	if deliver != nil {
		deliver(msg)
	}
	return nil
}

func (b *LocalBackbone) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
