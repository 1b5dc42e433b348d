package relay

import (
	"errors"
	"sync"
)

var ErrPoolClosed = errors.New("worker pool is shut down")

// Pool runs submitted tasks each on its own goroutine and lets the owner
// wait for all of them on shutdown. It is constructed and torn down
// explicitly by whoever runs the relays; nothing holds one in package
// state.
type Pool struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func NewPool() *Pool {
	return &Pool{}
}

// Submit starts the task unless the pool has been shut down.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		task()
	}()
	return nil
}

// Shutdown rejects new tasks and blocks until in-flight tasks finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
