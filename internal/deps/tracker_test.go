package deps

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaveEncounteredHeader(t *testing.T) {
	tr := NewTracker()

	assert.False(t, tr.HaveEncounteredHeader("/p", "a.h"))
	assert.True(t, tr.HaveEncounteredHeader("/p", "a.h"))
	assert.False(t, tr.HaveEncounteredHeader("/q", "a.h"), "tables are per project")
	assert.True(t, tr.Encountered("/p", "a.h"))
	assert.False(t, tr.Encountered("/p", "b.h"))
	assert.Equal(t, 1, tr.Count("/p"))
}

func TestHaveEncounteredHeaderConcurrent(t *testing.T) {
	tr := NewTracker()

	const callers = 50
	var firsts atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if !tr.HaveEncounteredHeader("/p", "shared.h") {
				firsts.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), firsts.Load())
}

func TestResetEncounteredHeaders(t *testing.T) {
	tr := NewTracker()
	tr.HaveEncounteredHeader("/p", "a.h")
	tr.HaveEncounteredHeader("/q", "b.h")

	tr.ResetEncounteredHeaders()

	assert.False(t, tr.HaveEncounteredHeader("/p", "a.h"))
	assert.False(t, tr.HaveEncounteredHeader("/q", "b.h"))
}

func TestResetProject(t *testing.T) {
	tr := NewTracker()
	tr.HaveEncounteredHeader("/p", "a.h")
	tr.HaveEncounteredHeader("/p", "b.h")
	tr.HaveEncounteredHeader("/q", "a.h")

	assert.Equal(t, []string{"a.h", "b.h"}, tr.Headers("/p"))
	tr.ResetProject("/p")

	assert.Equal(t, 0, tr.Count("/p"))
	assert.True(t, tr.Encountered("/q", "a.h"))
}
