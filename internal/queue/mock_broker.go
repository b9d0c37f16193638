package queue

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/domain-enricher/internal/enricher"
)

// MockBroker is a mock implementation of enricher.Broker for testing.
type MockBroker struct {
	mock.Mock
}

var _ enricher.Broker = (*MockBroker)(nil)

// Pop is the mock implementation of the Pop method.
func (m *MockBroker) Pop(ctx context.Context, timeout time.Duration) (string, bool, error) {
	args := m.Called(ctx, timeout)
	return args.String(0), args.Bool(1), args.Error(2)
}

// Push is the mock implementation of the Push method.
func (m *MockBroker) Push(ctx context.Context, items ...string) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

// Len is the mock implementation of the Len method.
func (m *MockBroker) Len(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// Clear is the mock implementation of the Clear method.
func (m *MockBroker) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Ping is the mock implementation of the Ping method.
func (m *MockBroker) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Reconnect is the mock implementation of the Reconnect method.
func (m *MockBroker) Reconnect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Close is the mock implementation of the Close method.
func (m *MockBroker) Close() error {
	args := m.Called()
	return args.Error(0)
}
