package kernel

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// AccessCoordinator lets read-class file operations of one process run
// concurrently while keeping write-class operations exclusive with all of
// them. The first reader in takes the writer semaphore on behalf of every
// reader and the last reader out gives it back.
type AccessCoordinator struct {
	mu      sync.Mutex
	readers int
	writer  *semaphore.Weighted
}

func NewAccessCoordinator() *AccessCoordinator {
	return &AccessCoordinator{writer: semaphore.NewWeighted(1)}
}

func (a *AccessCoordinator) BeginRead(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.readers == 0 {
		// Held under mu: later readers queue on mu until the writer drains.
		if err := a.writer.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	a.readers++
	return nil
}

func (a *AccessCoordinator) EndRead() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.readers--
	if a.readers == 0 {
		a.writer.Release(1)
	}
}

func (a *AccessCoordinator) BeginWrite(ctx context.Context) error {
	return a.writer.Acquire(ctx, 1)
}

func (a *AccessCoordinator) EndWrite() {
	a.writer.Release(1)
}

// Readers returns the number of read-class operations in progress.
func (a *AccessCoordinator) Readers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readers
}
