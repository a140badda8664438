package workflow

import (
	"context"
	"sync"
)

// monitor is the single lock of a workflow: readers take the read lock,
// transitions take the write lock and broadcast.
type monitor struct {
	mu   sync.RWMutex
	cond *sync.Cond
}

func newMonitor() *monitor {
	m := &monitor{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// waitUntil blocks until pred holds or ctx is done. pred runs with the write lock held.
func (m *monitor) waitUntil(ctx context.Context, pred func() bool) error {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.cond.Broadcast()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	for !pred() {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.cond.Wait()
	}
	return nil
}
