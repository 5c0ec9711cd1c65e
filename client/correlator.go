package client

import (
	"sync"
)

// correlator matches acknowledgments to the commands that expect them.
// The broker answers in order, so the oldest registered channel receives the
// next value. A nil channel reserves a slot whose value is discarded.
type correlator[T any] struct {
	q   []chan T
	max int

	mu sync.Mutex
}

func newCorrelator[T any](max int) *correlator[T] {
	return &correlator[T]{
		max: max,
	}
}

func (m *correlator[T]) next(c chan T) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.max > 0 && len(m.q) >= m.max {
		return ErrTooManyPending
	}

	m.q = append(m.q, c)
	return nil
}

// send resolves the oldest pending entry with val. It reports false when
// nothing was pending.
func (m *correlator[T]) send(val T) bool {
	m.mu.Lock()
	if len(m.q) == 0 {
		m.mu.Unlock()
		return false
	}

	c := m.q[0]
	m.q[0] = nil
	m.q = m.q[1:]
	m.mu.Unlock()

	if c != nil {
		select {
		case c <- val:
		default:
		}
	}
	return true
}

func (m *correlator[T]) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.q)
}
