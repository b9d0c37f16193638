package redisqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/domain-enricher/internal/queue"
)

// serverError mimics a Redis error reply such as WRONGTYPE.
type serverError string

func (e serverError) Error() string { return string(e) }

func (serverError) RedisError() {}

type fakeClient struct {
	mu       sync.Mutex
	list     []string
	popErr   error
	pingErr  error
	pushed   [][]interface{}
	deleted  []string
	closed   bool
	popCalls int
}

func (f *fakeClient) BLPop(_ context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.popCalls++
	if f.popErr != nil {
		return redis.NewStringSliceResult(nil, f.popErr)
	}
	if len(f.list) == 0 {
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
	head := f.list[0]
	f.list = f.list[1:]
	return redis.NewStringSliceResult([]string{keys[0], head}, nil)
}

func (f *fakeClient) RPush(_ context.Context, _ string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, values)
	for _, v := range values {
		f.list = append(f.list, v.(string))
	}
	return redis.NewIntResult(int64(len(f.list)), nil)
}

func (f *fakeClient) LLen(context.Context, string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewIntResult(int64(len(f.list)), nil)
}

func (f *fakeClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, keys...)
	f.list = nil
	return redis.NewIntResult(1, nil)
}

func (f *fakeClient) Ping(context.Context) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pingErr != nil {
		return redis.NewStatusResult("", f.pingErr)
	}
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// dialSequence hands out the given clients in order.
func dialSequence(clients ...*fakeClient) (func() listClient, *int) {
	dials := 0
	return func() listClient {
		c := clients[dials]
		dials++
		return c
	}, &dials
}

func TestBrokerPushPopFIFO(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	dial, _ := dialSequence(client)
	b := newBroker("cola_dominios", dial, nil)
	ctx := context.Background()

	require.NoError(t, b.Push(ctx, "1|a.com", "2|b.com"))
	require.Len(t, client.pushed, 1)

	n, err := b.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	item, ok, err := b.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1|a.com", item)
}

func TestBrokerPopEmpty(t *testing.T) {
	t.Parallel()

	dial, _ := dialSequence(&fakeClient{})
	b := newBroker("k", dial, nil)

	item, ok, err := b.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, item)
}

func TestBrokerPushNothing(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	dial, _ := dialSequence(client)
	b := newBroker("k", dial, nil)

	require.NoError(t, b.Push(context.Background()))
	require.Empty(t, client.pushed)
}

func TestBrokerClassifiesErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		err        error
		connection bool
	}{
		{"server reply", serverError("WRONGTYPE Operation against a key holding the wrong kind of value"), false},
		{"dropped link", errors.New("read tcp 127.0.0.1:6379: connection reset by peer"), true},
		{"closed pool", redis.ErrClosed, true},
		{"canceled", context.Canceled, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dial, _ := dialSequence(&fakeClient{popErr: tc.err})
			b := newBroker("k", dial, nil)

			_, ok, err := b.Pop(context.Background(), time.Second)
			require.False(t, ok)
			require.Error(t, err)
			require.Equal(t, tc.connection, queue.IsConnection(err))
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestBrokerReconnectSwapsClient(t *testing.T) {
	t.Parallel()

	broken := &fakeClient{popErr: errors.New("connection refused")}
	healthy := &fakeClient{list: []string{"5|ok.com"}}
	dial, dials := dialSequence(broken, healthy)
	b := newBroker("k", dial, nil)
	ctx := context.Background()

	_, _, err := b.Pop(ctx, time.Second)
	require.True(t, queue.IsConnection(err))

	require.NoError(t, b.Reconnect(ctx))
	require.Equal(t, 2, *dials)
	require.True(t, broken.closed)

	item, ok, err := b.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "5|ok.com", item)
}

func TestBrokerReconnectFailsWhenPingFails(t *testing.T) {
	t.Parallel()

	dial, _ := dialSequence(&fakeClient{}, &fakeClient{pingErr: errors.New("dial tcp: connection refused")})
	b := newBroker("k", dial, nil)

	err := b.Reconnect(context.Background())
	require.Error(t, err)
	require.True(t, queue.IsConnection(err))
}

func TestBrokerClear(t *testing.T) {
	t.Parallel()

	client := &fakeClient{list: []string{"1|a.com"}}
	dial, _ := dialSequence(client)
	b := newBroker("cola_dominios", dial, nil)

	require.NoError(t, b.Clear(context.Background()))
	require.Equal(t, []string{"cola_dominios"}, client.deleted)
}

func TestBrokerClosed(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	dial, _ := dialSequence(client)
	b := newBroker("k", dial, nil)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	require.True(t, client.closed)

	_, _, err := b.Pop(context.Background(), time.Second)
	require.ErrorIs(t, err, queue.ErrClosed)
	require.ErrorIs(t, b.Reconnect(context.Background()), queue.ErrClosed)
}
