package index

import (
	"context"
	"sync"
)

// RWCoordinator is the reader/writer protocol guarding one Index.
//
// Any number of readers may hold it together, writers are exclusive, and a
// waiting writer blocks new readers so a stream of queries cannot starve a
// save. Unlike sync.RWMutex it supports ExitWriteEnterRead as one step.
type RWCoordinator struct {
	mu             sync.Mutex
	cond           *sync.Cond
	readers        int
	writer         bool
	waitingWriters int
}

// NewRWCoordinator creates an unlocked coordinator
func NewRWCoordinator() *RWCoordinator {
	c := &RWCoordinator{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// EnterRead blocks until a read lock is held
func (c *RWCoordinator) EnterRead() {
	c.mu.Lock()
	for c.writer || c.waitingWriters > 0 {
		c.cond.Wait()
	}
	c.readers++
	c.mu.Unlock()
}

// ExitRead releases a read lock
func (c *RWCoordinator) ExitRead() {
	c.mu.Lock()
	if c.readers <= 0 {
		c.mu.Unlock()
		panic("index: ExitRead without matching EnterRead")
	}
	c.readers--
	if c.readers == 0 {
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

// EnterWrite blocks until the write lock is held
func (c *RWCoordinator) EnterWrite() {
	c.mu.Lock()
	c.waitingWriters++
	for c.writer || c.readers > 0 {
		c.cond.Wait()
	}
	c.waitingWriters--
	c.writer = true
	c.mu.Unlock()
}

// ExitWrite releases the write lock
func (c *RWCoordinator) ExitWrite() {
	c.mu.Lock()
	if !c.writer {
		c.mu.Unlock()
		panic("index: ExitWrite without matching EnterWrite")
	}
	c.writer = false
	c.cond.Broadcast()
	c.mu.Unlock()
}

// ExitWriteEnterRead downgrades the write lock to a read lock. No other
// writer can run in between.
func (c *RWCoordinator) ExitWriteEnterRead() {
	c.mu.Lock()
	if !c.writer {
		c.mu.Unlock()
		panic("index: ExitWriteEnterRead without matching EnterWrite")
	}
	c.writer = false
	c.readers++
	// Other readers may join; writers still see readers > 0
	c.cond.Broadcast()
	c.mu.Unlock()
}

// EnterReadContext is EnterRead that gives up when ctx is done
func (c *RWCoordinator) EnterReadContext(ctx context.Context) error {
	stop := c.wakeOnDone(ctx)
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.writer || c.waitingWriters > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.cond.Wait()
	}
	c.readers++
	return nil
}

// EnterWriteContext is EnterWrite that gives up when ctx is done
func (c *RWCoordinator) EnterWriteContext(ctx context.Context) error {
	stop := c.wakeOnDone(ctx)
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitingWriters++
	for c.writer || c.readers > 0 {
		if err := ctx.Err(); err != nil {
			c.waitingWriters--
			c.cond.Broadcast()
			return err
		}
		c.cond.Wait()
	}
	c.waitingWriters--
	c.writer = true
	return nil
}

// wakeOnDone broadcasts when ctx ends so waiters can observe it
func (c *RWCoordinator) wakeOnDone(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
}

// Readers returns the current number of read holders
func (c *RWCoordinator) Readers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readers
}

// Writing reports whether a writer holds the lock
func (c *RWCoordinator) Writing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writer
}
