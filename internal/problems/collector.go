package problems

import (
	"sync"

	"github.com/dshills/cindex-mcp/pkg/types"
)

// OpKind distinguishes buffered operations
type OpKind int

const (
	OpRemove OpKind = iota
	OpAdd
)

func (k OpKind) String() string {
	if k == OpAdd {
		return "add"
	}
	return "remove"
}

// Op is one buffered marker operation for a file
type Op struct {
	Kind       OpKind
	File       string
	Originator string
	Problem    types.Problem // set for OpAdd
}

// MarkerSink receives committed operations
type MarkerSink interface {
	RemoveMarkers(file, originator string)
	AddMarker(file string, p types.Problem) bool
}

// Collector buffers problem operations per file until they are committed.
// Each file's buffer always starts with a remove.
type Collector struct {
	mu    sync.Mutex
	ops   map[string][]Op
	order []string // files in first-touched order
}

// NewCollector creates an empty buffer
func NewCollector() *Collector {
	return &Collector{ops: make(map[string][]Op)}
}

func (c *Collector) touch(file string) {
	if _, ok := c.ops[file]; !ok {
		c.order = append(c.order, file)
	}
}

// RemoveProblems discards everything buffered for file and queues a remove
// as the new first operation.
func (c *Collector) RemoveProblems(file, originator string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch(file)
	c.ops[file] = []Op{{Kind: OpRemove, File: file, Originator: originator}}
}

// AddProblem queues a problem. A file with nothing buffered gets an implicit
// remove for the same originator first, so stale markers go away.
func (c *Collector) AddProblem(file, originator string, p types.Problem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch(file)
	if len(c.ops[file]) == 0 {
		c.ops[file] = []Op{{Kind: OpRemove, File: file, Originator: originator}}
	}
	p.File = file
	p.Originator = originator
	c.ops[file] = append(c.ops[file], Op{Kind: OpAdd, File: file, Originator: originator, Problem: p})
}

// Pending reports whether anything is buffered
func (c *Collector) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order) > 0
}

// HasAdds reports whether any buffered file carries a problem, as opposed to
// only removals
func (c *Collector) HasAdds() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ops := range c.ops {
		if len(ops) > 1 {
			return true
		}
	}
	return false
}

// Drain empties the buffer and returns its operations, file by file in the
// order files were first touched.
func (c *Collector) Drain() []Op {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Op
	for _, file := range c.order {
		out = append(out, c.ops[file]...)
	}
	c.ops = make(map[string][]Op)
	c.order = nil
	return out
}

// Commit drains the buffer into sink and returns how many markers were added
func (c *Collector) Commit(sink MarkerSink) int {
	added := 0
	for _, op := range c.Drain() {
		switch op.Kind {
		case OpRemove:
			sink.RemoveMarkers(op.File, op.Originator)
		case OpAdd:
			if sink.AddMarker(op.File, op.Problem) {
				added++
			}
		}
	}
	return added
}
