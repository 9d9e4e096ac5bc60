package service

import "sync"

// mailbox is an unbounded FIFO of closures run by the session loop.
// post never blocks, so timers, network goroutines and handshake
// resolvers can hand work back to the loop from anywhere.
type mailbox struct {
	mu    sync.Mutex
	items []func()
	wake  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.items = append(m.items, fn)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}
