package mock

import (
	"context"
	"sync/atomic"
	"time"

	"bank-ledger/pkg/cache"
)

// MockLayer is a cache.Layer for tests. Each method can be overridden with a
// hook, and calls are counted.
type MockLayer struct {
	GetFunc    func(ctx context.Context, key string) ([]byte, error)
	SetFunc    func(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteFunc func(ctx context.Context, keys ...string) error
	NameFunc   func() string
	CloseFunc  func() error

	getCalls    atomic.Int64
	setCalls    atomic.Int64
	deleteCalls atomic.Int64
	closeCalls  atomic.Int64
}

var _ cache.Layer = (*MockLayer)(nil)

func (m *MockLayer) Get(ctx context.Context, key string) ([]byte, error) {
	m.getCalls.Add(1)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return nil, cache.ErrKeyNotFound
}

func (m *MockLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.setCalls.Add(1)
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, ttl)
	}
	return nil
}

func (m *MockLayer) Delete(ctx context.Context, keys ...string) error {
	m.deleteCalls.Add(1)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, keys...)
	}
	return nil
}

func (m *MockLayer) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock"
}

func (m *MockLayer) Close() error {
	m.closeCalls.Add(1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockLayer) GetCalls() int    { return int(m.getCalls.Load()) }
func (m *MockLayer) SetCalls() int    { return int(m.setCalls.Load()) }
func (m *MockLayer) DeleteCalls() int { return int(m.deleteCalls.Load()) }
func (m *MockLayer) CloseCalls() int  { return int(m.closeCalls.Load()) }

// NewMockLayer returns a layer that misses on every Get and accepts writes.
func NewMockLayer(name string) *MockLayer {
	return &MockLayer{
		NameFunc: func() string { return name },
	}
}

// NewFailingLayer returns a layer whose every operation fails with err.
func NewFailingLayer(name string, err error) *MockLayer {
	return &MockLayer{
		NameFunc: func() string { return name },
		GetFunc: func(context.Context, string) ([]byte, error) {
			return nil, err
		},
		SetFunc: func(context.Context, string, []byte, time.Duration) error {
			return err
		},
		DeleteFunc: func(context.Context, ...string) error {
			return err
		},
	}
}
