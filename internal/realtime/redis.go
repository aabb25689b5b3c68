package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBackbone shares room messages between instances over one Redis
// Pub/Sub channel. A single publisher goroutine drains an ordered queue, so
// messages from this instance reach Redis in Publish order. Redis Pub/Sub is
// at-most-once and there is no ordering across instances.
type RedisBackbone struct {
	rdb     *redis.Client
	channel string
	origin  string
	logger  *slog.Logger

	queue     chan Message
	done      chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewRedisBackbone(rdb *redis.Client, channel, origin string, logger *slog.Logger) *RedisBackbone {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBackbone{
		rdb:     rdb,
		channel: channel,
		origin:  origin,
		logger:  logger,
		queue:   make(chan Message, 1024),
		done:    make(chan struct{}),
	}
}

// Publish queues msg for the publisher goroutine. It never blocks.
func (b *RedisBackbone) Publish(_ context.Context, msg Message) error {
	msg.Origin = b.origin
	select {
	case <-b.done:
		return ErrBackboneClosed
	default:
	}
	select {
	case b.queue <- msg:
		return nil
	default:
		return ErrBackboneFull
	}
}

// Start subscribes and waits for Redis to confirm the subscription before
// returning, so nothing published afterwards is missed.
func (b *RedisBackbone) Start(ctx context.Context, deliver func(Message)) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	pubsub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	b.wg.Add(2)
	go b.publishLoop(ctx)
	go b.receiveLoop(ctx, pubsub, deliver)
	return nil
}

func (b *RedisBackbone) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		if b.cancel != nil {
			b.cancel()
		}
	})
	b.wg.Wait()
	return nil
}

func (b *RedisBackbone) publishLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.queue:
			payload, err := json.Marshal(msg)
			if err != nil {
				b.logger.Error("failed to marshal room message", slog.String("event", msg.Event), slog.String("error", err.Error()))
				continue
			}
			if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
				b.logger.Warn("failed to publish room message",
					slog.String("room", msg.Room),
					slog.String("event", msg.Event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (b *RedisBackbone) receiveLoop(ctx context.Context, pubsub *redis.PubSub, deliver func(Message)) {
	defer b.wg.Done()
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Warn("dropping malformed room message", slog.String("error", err.Error()))
				continue
			}
			deliver(msg)
		}
	}
}
