package pipeline

import (
	"fmt"
	"sync"
)

// State is the per-dataset position in the pipeline.
type State string

const (
	StateEmpty       State = "EMPTY"
	StateChunking    State = "CHUNKING"
	StateRebalancing State = "REBALANCING"
	StateUploading   State = "UPLOADING"
	StateDone        State = "DONE"
)

// Chunking and rebalancing are not resumable, so a failure in either drops
// the dataset back to EMPTY. Uploading can be re-entered after a failure.
var transitions = map[State][]State{
	StateEmpty:       {StateChunking, StateUploading},
	StateChunking:    {StateRebalancing, StateEmpty},
	StateRebalancing: {StateUploading, StateChunking, StateEmpty},
	StateUploading:   {StateUploading, StateDone, StateChunking},
	StateDone:        {StateChunking, StateUploading},
}

type stateTable struct {
	mu     sync.Mutex
	states map[string]State
}

func newStateTable() *stateTable {
	return &stateTable{states: make(map[string]State)}
}

func (t *stateTable) get(name string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[name]; ok {
		return s
	}
	return StateEmpty
}

func (t *stateTable) move(name string, to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	from, ok := t.states[name]
	if !ok {
		from = StateEmpty
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			t.states[name] = to
			return nil
		}
	}
	return fmt.Errorf("dataset %s cannot move from %s to %s", name, from, to)
}

// reset forces a state after a failed phase.
func (t *stateTable) reset(name string, to State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[name] = to
}
