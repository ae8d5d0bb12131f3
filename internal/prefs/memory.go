package prefs

import (
	"context"
	"sync"
)

type Memory struct {
	mu      sync.RWMutex
	values  map[string]Value
	closed  bool
	failErr error
}

func NewMemory() *Memory {
	return &Memory{values: map[string]Value{}}
}

func (m *Memory) Get(_ context.Context, key string) (Value, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Value{}, false, ErrClosed
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Apply(_ context.Context, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.failErr != nil {
		return m.failErr
	}
	for _, w := range writes {
		if w.Value == nil {
			delete(m.values, w.Key)
			continue
		}
		m.values[w.Key] = *w.Value
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// FailWrites makes every later Apply return err. A nil err restores writes.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}
