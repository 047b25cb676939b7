package jobs

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of job variants
type Kind int

const (
	IndexFile Kind = iota
	IndexProjectTree
	RemoveFolder
	RemoveFile
	SaveIndex
	CommitProblems
)

func (k Kind) String() string {
	switch k {
	case IndexFile:
		return "index_file"
	case IndexProjectTree:
		return "index_project_tree"
	case RemoveFolder:
		return "remove_folder"
	case RemoveFile:
		return "remove_file"
	case SaveIndex:
		return "save_index"
	case CommitProblems:
		return "commit_problems"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Priority selects the queue a job waits in
type Priority int

const (
	PriorityContent Priority = iota
	PriorityBackground
)

func (p Priority) String() string {
	if p == PriorityBackground {
		return "background"
	}
	return "content"
}

// DefaultPriority returns the queue a kind normally uses
func (k Kind) DefaultPriority() Priority {
	switch k {
	case SaveIndex, CommitProblems:
		return PriorityBackground
	default:
		return PriorityContent
	}
}

// State is a job's position in its lifecycle
type State int32

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Job is one unit of indexing work for a project
type Job struct {
	ID       uuid.UUID
	Kind     Kind
	Project  string // project root the job belongs to
	Path     string // file or folder, empty for project-wide kinds
	Priority Priority
	Force    bool // ignore content hashes and rebuild

	EnqueuedAt time.Time

	state     atomic.Int32
	cancelled atomic.Bool
	finished  atomic.Bool
	err       atomic.Pointer[error]
}

// NewJob creates a pending job with the kind's default priority
func NewJob(kind Kind, project, path string) *Job {
	return &Job{
		ID:       uuid.New(),
		Kind:     kind,
		Project:  project,
		Path:     path,
		Priority: kind.DefaultPriority(),
	}
}

// BelongsTo reports whether the job works on project
func (j *Job) BelongsTo(project string) bool {
	return j.Project == project
}

// State returns the current lifecycle state
func (j *Job) State() State {
	return State(j.state.Load())
}

func (j *Job) setState(s State) {
	j.state.Store(int32(s))
}

// Cancelled is the cooperative checkpoint polled by executors
func (j *Job) Cancelled() bool {
	return j.cancelled.Load()
}

// markCancelled flips the flag, true only for the first caller
func (j *Job) markCancelled() bool {
	return j.cancelled.CompareAndSwap(false, true)
}

// markFinished is true only for the first caller
func (j *Job) markFinished() bool {
	return j.finished.CompareAndSwap(false, true)
}

// Err returns the error a failed job ended with
func (j *Job) Err() error {
	if p := j.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (j *Job) setErr(err error) {
	if err != nil {
		j.err.Store(&err)
	}
}

// equivalent reports whether other would do the same work as j
func (j *Job) equivalent(other *Job) bool {
	if j.Kind != other.Kind || j.Project != other.Project {
		return false
	}
	switch j.Kind {
	case IndexProjectTree, SaveIndex, CommitProblems:
		return j.Path == other.Path
	case IndexFile, RemoveFile:
		return j.Path == other.Path && j.Path != ""
	default:
		return false
	}
}

func (j *Job) String() string {
	if j.Path != "" {
		return fmt.Sprintf("%s %s (%s)", j.Kind, j.Path, j.ID)
	}
	return fmt.Sprintf("%s %s (%s)", j.Kind, j.Project, j.ID)
}
