// Package redisqueue implements the job broker on a Redis list.
//
// Each worker owns its own Broker (and therefore its own client), so a
// reconnect in one worker never disturbs the others.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-enricher/internal/enricher"
	"github.com/JakeFAU/domain-enricher/internal/queue"
)

// listClient is the subset of the go-redis client the broker uses.
type listClient interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Options configures the connection and the list key.
type Options struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Broker implements enricher.Broker against a single Redis list.
type Broker struct {
	mu     sync.Mutex
	client listClient
	dial   func() listClient
	key    string
	logger *zap.Logger
	closed bool
}

var _ enricher.Broker = (*Broker)(nil)

// New dials lazily: the client is created here but no command is sent until
// the first call.
func New(opts Options, logger *zap.Logger) *Broker {
	dial := func() listClient {
		return redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
	}
	return newBroker(opts.Key, dial, logger)
}

func newBroker(key string, dial func() listClient, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		client: dial(),
		dial:   dial,
		key:    key,
		logger: logger,
	}
}

func (b *Broker) current() (listClient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, queue.ErrClosed
	}
	return b.client, nil
}

// Pop blocks up to timeout for the head of the list. An empty list within the
// window yields ok=false with a nil error.
func (b *Broker) Pop(ctx context.Context, timeout time.Duration) (string, bool, error) {
	client, err := b.current()
	if err != nil {
		return "", false, err
	}
	vals, err := client.BLPop(ctx, timeout, b.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, classify("blpop", err)
	}
	// BLPOP replies with [key, value].
	if len(vals) != 2 {
		return "", false, fmt.Errorf("redis blpop: unexpected reply length %d", len(vals))
	}
	return vals[1], true, nil
}

// Push appends items to the tail of the list in one RPUSH.
func (b *Broker) Push(ctx context.Context, items ...string) error {
	if len(items) == 0 {
		return nil
	}
	client, err := b.current()
	if err != nil {
		return err
	}
	values := make([]interface{}, len(items))
	for i, item := range items {
		values[i] = item
	}
	if err := client.RPush(ctx, b.key, values...).Err(); err != nil {
		return classify("rpush", err)
	}
	return nil
}

// Len returns the list length.
func (b *Broker) Len(ctx context.Context) (int64, error) {
	client, err := b.current()
	if err != nil {
		return 0, err
	}
	n, err := client.LLen(ctx, b.key).Result()
	if err != nil {
		return 0, classify("llen", err)
	}
	return n, nil
}

// Clear deletes the list key.
func (b *Broker) Clear(ctx context.Context) error {
	client, err := b.current()
	if err != nil {
		return err
	}
	if err := client.Del(ctx, b.key).Err(); err != nil {
		return classify("del", err)
	}
	return nil
}

// Ping checks the link.
func (b *Broker) Ping(ctx context.Context) error {
	client, err := b.current()
	if err != nil {
		return err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Reconnect discards the current client and dials a fresh one, verifying it
// with a PING.
func (b *Broker) Reconnect(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return queue.ErrClosed
	}
	old := b.client
	b.client = b.dial()
	b.mu.Unlock()

	if err := old.Close(); err != nil {
		b.logger.Debug("closing stale redis client failed", zap.Error(err))
	}
	return b.Ping(ctx)
}

// Close releases the client. It is safe to call more than once.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

// classify separates server-side command errors from link failures. Only the
// latter carry queue.ErrConnection.
func classify(op string, err error) error {
	var serverErr redis.Error
	switch {
	case errors.As(err, &serverErr):
		return fmt.Errorf("redis %s: %w", op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("redis %s: %w", op, err)
	default:
		return fmt.Errorf("redis %s: %w: %w", op, queue.ErrConnection, err)
	}
}
