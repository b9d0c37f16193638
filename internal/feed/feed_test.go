package feed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-enricher/internal/queue"
	queueMemory "github.com/JakeFAU/domain-enricher/internal/queue/memory"
)

type fakeRow struct {
	id     int64
	domain string
}

type fakeRows struct {
	rows []fakeRow
	err  error
}

func (f *fakeRows) EachUnprocessed(_ context.Context, fn func(int64, string) error) error {
	for _, r := range f.rows {
		if err := fn(r.id, r.domain); err != nil {
			return err
		}
	}
	return f.err
}

// countingBroker records the size of every push.
type countingBroker struct {
	*queueMemory.Broker
	pushes []int
}

func (b *countingBroker) Push(ctx context.Context, items ...string) error {
	b.pushes = append(b.pushes, len(items))
	return b.Broker.Push(ctx, items...)
}

func TestFeederPushesBatchesAndSkipsBlanks(t *testing.T) {
	t.Parallel()

	var rows []fakeRow
	for i := int64(1); i <= 5; i++ {
		rows = append(rows, fakeRow{i, fmt.Sprintf(" site%d.com ", i)})
	}
	rows = append(rows, fakeRow{6, ""}, fakeRow{7, "   "})

	broker := &countingBroker{Broker: queueMemory.NewBroker("99|stale.com", "98|stale2.com")}
	f := New(broker, &fakeRows{rows: rows}, Config{BatchSize: 2}, zap.NewNop())

	stats, err := f.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Cleared: 2, Pushed: 5, Skipped: 2, Batches: 3}, stats)
	require.Equal(t, []int{2, 2, 1}, broker.pushes)
	require.Equal(t, []string{
		"1|site1.com", "2|site2.com", "3|site3.com", "4|site4.com", "5|site5.com",
	}, broker.Snapshot())
}

func TestFeederEmptySource(t *testing.T) {
	t.Parallel()

	broker := &countingBroker{Broker: queueMemory.NewBroker()}
	stats, err := New(broker, &fakeRows{}, Config{}, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{}, stats)
	require.Empty(t, broker.pushes)
}

func TestFeederStopsWhenBrokerUnreachable(t *testing.T) {
	t.Parallel()

	broker := new(queue.MockBroker)
	broker.On("Ping", mock.Anything).Return(fmt.Errorf("redis ping: %w", queue.ErrConnection))

	_, err := New(broker, &fakeRows{rows: []fakeRow{{1, "a.com"}}}, Config{}, zap.NewNop()).Run(context.Background())
	require.ErrorIs(t, err, queue.ErrConnection)
	broker.AssertExpectations(t)
	broker.AssertNotCalled(t, "Clear", mock.Anything)
}

func TestFeederPropagatesPushErrors(t *testing.T) {
	t.Parallel()

	pushErr := errors.New("OOM command not allowed")
	broker := new(queue.MockBroker)
	broker.On("Ping", mock.Anything).Return(nil)
	broker.On("Len", mock.Anything).Return(int64(0), nil)
	broker.On("Clear", mock.Anything).Return(nil)
	broker.On("Push", mock.Anything, []string{"1|a.com"}).Return(pushErr)

	stats, err := New(broker, &fakeRows{rows: []fakeRow{{1, "a.com"}}}, Config{BatchSize: 10}, zap.NewNop()).
		Run(context.Background())
	require.ErrorIs(t, err, pushErr)
	require.Zero(t, stats.Pushed)
	broker.AssertExpectations(t)
}

func TestFeederPropagatesRowErrors(t *testing.T) {
	t.Parallel()

	rowErr := errors.New("connection reset by peer")
	broker := queueMemory.NewBroker()
	_, err := New(broker, &fakeRows{err: rowErr}, Config{}, zap.NewNop()).Run(context.Background())
	require.ErrorIs(t, err, rowErr)
}

func TestFeederFeedsWorkersInOrder(t *testing.T) {
	t.Parallel()

	broker := queueMemory.NewBroker()
	_, err := New(broker, &fakeRows{rows: []fakeRow{{1, "a.com"}, {2, "b.com"}}}, Config{}, nil).Run(context.Background())
	require.NoError(t, err)

	item, ok, err := broker.Pop(context.Background(), time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1|a.com", item)
}
