package engine

import (
	"sync"
	"time"
)

// State is a step of the backup state machine.
type State string

const (
	StateIdle               State = "idle"
	StateIdentityChecked    State = "identity_checked"
	StateDefinitionResolved State = "definition_resolved"
	StateChainValidated     State = "chain_validated"
	StateArchiveRunning     State = "archive_running"
	StateCatalogUpdated     State = "catalog_updated"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// successor is the only forward move allowed from each non-terminal state.
var successor = map[State]State{
	StateIdle:               StateIdentityChecked,
	StateIdentityChecked:    StateDefinitionResolved,
	StateDefinitionResolved: StateChainValidated,
	StateChainValidated:     StateArchiveRunning,
	StateArchiveRunning:     StateCatalogUpdated,
	StateCatalogUpdated:     StateDone,
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Transition is one entry of a run's state trail.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// RunProgress is a snapshot of a run, safe for JSON serialization.
type RunProgress struct {
	Definition string       `json:"definition"`
	State      State        `json:"state"`
	Kind       Kind         `json:"kind,omitempty"`
	StartTime  time.Time    `json:"start_time"`
	Elapsed    string       `json:"elapsed"`
	Trail      []Transition `json:"trail"`
}

// RunTracker records the transitions of one run. Moves that skip a state or
// leave a terminal state panic: they are programming errors.
type RunTracker struct {
	mu sync.Mutex

	definition string
	state      State
	kind       Kind
	startTime  time.Time
	trail      []Transition
	now        func() time.Time
}

func newRunTracker(definition string, now func() time.Time) *RunTracker {
	if now == nil {
		now = time.Now
	}
	return &RunTracker{
		definition: definition,
		state:      StateIdle,
		startTime:  now(),
		now:        now,
	}
}

// State returns the current state.
func (t *RunTracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *RunTracker) advance(to State, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if successor[t.state] != to {
		panic("engine: illegal transition " + string(t.state) + " -> " + string(to))
	}
	t.record(to, detail)
}

func (t *RunTracker) fail(kind Kind, detail string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		panic("engine: run already finished in " + string(t.state))
	}
	from := t.state
	t.kind = kind
	t.record(StateFailed, detail)
	return from
}

func (t *RunTracker) record(to State, detail string) {
	t.trail = append(t.trail, Transition{From: t.state, To: to, At: t.now(), Detail: detail})
	t.state = to
}

// Snapshot returns a copy of the tracker state.
func (t *RunTracker) Snapshot() RunProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return RunProgress{
		Definition: t.definition,
		State:      t.state,
		Kind:       t.kind,
		StartTime:  t.startTime,
		Elapsed:    t.now().Sub(t.startTime).Round(time.Millisecond).String(),
		Trail:      append([]Transition(nil), t.trail...),
	}
}
