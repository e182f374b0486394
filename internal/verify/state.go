package verify

import "encoding/json"

// State is a stage of the verification pipeline. Requests only move forward.
type State int

const (
	StateCacheCheck State = iota
	StateRAGLookup
	StateWebEscalation
	StateAdjudication
	StatePersisted
	StateFailed
)

var stateNames = [...]string{
	StateCacheCheck:    "CACHE_CHECK",
	StateRAGLookup:     "RAG_LOOKUP",
	StateWebEscalation: "WEB_ESCALATION",
	StateAdjudication:  "ADJUDICATION",
	StatePersisted:     "PERSISTED",
	StateFailed:        "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// MarshalJSON encodes the state by name
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StatePersisted || s == StateFailed
}

// Trace records the states a request visited, in order
type Trace []State

// enter appends next. Moving backwards or leaving a terminal state panics:
// both are programming errors in the orchestrator.
func (t *Trace) enter(next State) {
	if n := len(*t); n > 0 {
		last := (*t)[n-1]
		if last.Terminal() || (next != StateFailed && next <= last) {
			panic("verify: illegal transition " + last.String() + " -> " + next.String())
		}
	}
	*t = append(*t, next)
}

// Last returns the most recent state
func (t Trace) Last() State {
	if len(t) == 0 {
		return StateCacheCheck
	}
	return t[len(t)-1]
}

// Reached reports whether s was visited
func (t Trace) Reached(s State) bool {
	for _, v := range t {
		if v == s {
			return true
		}
	}
	return false
}
