package index

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cindex-mcp/pkg/types"
)

func TestRWCoordinatorConcurrentReaders(t *testing.T) {
	c := NewRWCoordinator()
	c.EnterRead()
	c.EnterRead()
	assert.Equal(t, 2, c.Readers())
	c.ExitRead()
	c.ExitRead()
	assert.Equal(t, 0, c.Readers())
}

func TestRWCoordinatorWriterExcludesReaders(t *testing.T) {
	c := NewRWCoordinator()
	c.EnterWrite()

	entered := make(chan struct{})
	go func() {
		c.EnterRead()
		close(entered)
		c.ExitRead()
	}()

	select {
	case <-entered:
		t.Fatal("reader entered while writer held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	c.ExitWrite()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("reader never entered after writer exit")
	}
}

func TestRWCoordinatorWaitingWriterBlocksNewReaders(t *testing.T) {
	c := NewRWCoordinator()
	c.EnterRead()

	writerIn := make(chan struct{})
	go func() {
		c.EnterWrite()
		close(writerIn)
		time.Sleep(20 * time.Millisecond)
		c.ExitWrite()
	}()

	// Wait for the writer to queue up
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.waitingWriters == 1
	}, time.Second, time.Millisecond)

	readerIn := make(chan struct{})
	go func() {
		c.EnterRead()
		close(readerIn)
		c.ExitRead()
	}()

	select {
	case <-readerIn:
		t.Fatal("new reader overtook a waiting writer")
	case <-time.After(30 * time.Millisecond):
	}

	c.ExitRead()
	<-writerIn
	select {
	case <-readerIn:
	case <-time.After(time.Second):
		t.Fatal("reader starved after writer finished")
	}
}

func TestExitWriteEnterReadBlocksOtherWriters(t *testing.T) {
	c := NewRWCoordinator()
	c.EnterWrite()

	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	// A second writer waits for the lock
	done := make(chan struct{})
	go func() {
		c.EnterWrite()
		record("writer2")
		c.ExitWrite()
		close(done)
	}()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.waitingWriters == 1
	}, time.Second, time.Millisecond)

	c.ExitWriteEnterRead()
	assert.False(t, c.Writing())
	assert.Equal(t, 1, c.Readers())

	// Still holding the read lock, the waiting writer must not get in
	time.Sleep(30 * time.Millisecond)
	record("reader1")
	c.ExitRead()

	<-done
	assert.Equal(t, []string{"reader1", "writer2"}, order)
}

func TestRWCoordinatorMisusePanics(t *testing.T) {
	c := NewRWCoordinator()
	assert.Panics(t, c.ExitRead)
	assert.Panics(t, c.ExitWrite)
	assert.Panics(t, c.ExitWriteEnterRead)
}

func TestEnterWriteContextCancelled(t *testing.T) {
	c := NewRWCoordinator()
	c.EnterRead()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.EnterWriteContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned writer no longer blocks readers
	require.NoError(t, c.EnterReadContext(context.Background()))
	c.ExitRead()
	c.ExitRead()

	require.NoError(t, c.EnterWriteContext(context.Background()))
	c.ExitWrite()
}

// A writer appending 10k entries while readers validate that the file
// table and the entry count always agree.
func TestReadersNeverObserveHalfWrittenIndex(t *testing.T) {
	idx := New("/proj")
	lock := idx.lock

	const total = 10000
	var stop atomic.Bool
	var wg sync.WaitGroup
	var violations atomic.Int32

	// Every file gets exactly two entries inside one write section
	writer := func() {
		defer wg.Done()
		for i := 0; i < total/2; i++ {
			lock.EnterWrite()
			n := idx.AddFile(fmt.Sprintf("f%d.c", i))
			for j := 0; j < 2; j++ {
				_ = idx.AddEntry(types.IndexEntry{
					Kind:       types.KindFunction,
					Role:       types.RoleDeclaration,
					Name:       types.QualifiedName{fmt.Sprintf("fn%d_%d", i, j)},
					FileNumber: n,
				})
			}
			lock.ExitWrite()
		}
		stop.Store(true)
	}

	reader := func() {
		defer wg.Done()
		for !stop.Load() {
			lock.EnterRead()
			files := idx.FileCount()
			count := idx.EntryCount()
			if count != files*2 {
				violations.Add(1)
			}
			if files > 0 && len(idx.EntriesForFile(files)) != 2 {
				violations.Add(1)
			}
			lock.ExitRead()
		}
	}

	wg.Add(1)
	go writer()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go reader()
	}
	wg.Wait()

	assert.Equal(t, int32(0), violations.Load())
	assert.Equal(t, total, idx.EntryCount())
}
