package syncer

import "fmt"

// State is the sync loop's lifecycle state.
type State int32

const (
	NotSyncing State = iota
	Starting
	Syncing
	Retrying
	Canceling
)

var stateNames = [...]string{
	NotSyncing: "notSyncing",
	Starting:   "starting",
	Syncing:    "syncing",
	Retrying:   "retrying",
	Canceling:  "canceling",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

var transitions = map[State][]State{
	NotSyncing: {Starting},
	Starting:   {Syncing, Retrying, Canceling},
	Syncing:    {Canceling, Retrying, Syncing},
	Retrying:   {Canceling, Syncing, Retrying},
	Canceling:  {NotSyncing},
}

// CanTransition reports whether the loop may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, st := range transitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned for a state change the loop does not
// allow.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("syncer: invalid state transition %s -> %s", e.From, e.To)
}
