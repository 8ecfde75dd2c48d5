package pipeline

import (
	"fmt"
	"sync"
)

type State int

const (
	StateCreated State = iota
	StateAcquiring
	StateAcquired
	StateResolvingMetadata
	StateTagging
	StateReady
	StateServed
	StateDeleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAcquiring:
		return "acquiring"
	case StateAcquired:
		return "acquired"
	case StateResolvingMetadata:
		return "resolving_metadata"
	case StateTagging:
		return "tagging"
	case StateReady:
		return "ready"
	case StateServed:
		return "served"
	case StateDeleted:
		return "deleted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// isValidTransition enforces the job state machine edges. Any state that owns
// a file may go straight to Deleted, since the file can be released by
// cancellation or expiry at any point after acquisition.
func isValidTransition(from, to State) bool {
	switch from {
	case StateCreated:
		return to == StateAcquiring
	case StateAcquiring:
		return to == StateAcquired || to == StateFailed
	case StateAcquired:
		return to == StateResolvingMetadata || to == StateDeleted
	case StateResolvingMetadata:
		return to == StateTagging || to == StateDeleted
	case StateTagging:
		return to == StateReady || to == StateDeleted
	case StateReady:
		return to == StateServed || to == StateDeleted
	case StateServed:
		return to == StateDeleted
	case StateDeleted, StateFailed:
		return false
	default:
		return false
	}
}

// Job is one acquisition request. Its state may be advanced from the goroutine
// that runs it and from whichever goroutine releases its file.
type Job struct {
	ID             string
	RequestedTitle string
	SourceLocator  string

	mux      sync.Mutex
	state    State
	filePath string
	history  []State
}

func newJob(id, title, locator string) *Job {
	return &Job{
		ID:             id,
		RequestedTitle: title,
		SourceLocator:  locator,
		mux:            sync.Mutex{},
		state:          StateCreated,
		filePath:       "",
		history:        []State{StateCreated},
	}
}

func (j *Job) State() State {
	j.mux.Lock()
	defer j.mux.Unlock()

	return j.state
}

func (j *Job) FilePath() string {
	j.mux.Lock()
	defer j.mux.Unlock()

	return j.filePath
}

// History returns every state the job has been in, oldest first.
func (j *Job) History() []State {
	j.mux.Lock()
	defer j.mux.Unlock()

	out := make([]State, len(j.history))
	copy(out, j.history)

	return out
}

func (j *Job) transition(to State) error {
	j.mux.Lock()
	defer j.mux.Unlock()

	if !isValidTransition(j.state, to) {
		return fmt.Errorf("invalid job state transition: %s -> %s", j.state, to)
	}

	j.state = to
	j.history = append(j.history, to)

	return nil
}

func (j *Job) setFilePath(p string) {
	j.mux.Lock()
	defer j.mux.Unlock()

	j.filePath = p
}
