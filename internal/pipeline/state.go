package pipeline

import "fmt"

// State is a phase orchestrator state.
type State string

const (
	StateSelecting             State = "SELECTING"
	StateValidatingSelection   State = "VALIDATING_SELECTION"
	StateConstraining          State = "CONSTRAINING"
	StateEnhancing             State = "ENHANCING"
	StateValidatingEnhancement State = "VALIDATING_ENHANCEMENT"
	StateDone                  State = "DONE"
	StateFailed                State = "FAILED"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var transitions = map[State][]State{
	StateSelecting:             {StateValidatingSelection, StateFailed},
	StateValidatingSelection:   {StateConstraining, StateEnhancing, StateFailed},
	StateConstraining:          {StateSelecting, StateFailed},
	StateEnhancing:             {StateValidatingEnhancement, StateFailed},
	StateValidatingEnhancement: {StateDone, StateFailed},
}

// machine records the state trace of one run and rejects transitions the
// orchestrator does not define.
type machine struct {
	current State
	trace   []State
}

func newMachine() *machine {
	return &machine{current: StateSelecting, trace: []State{StateSelecting}}
}

func (m *machine) to(next State) error {
	for _, allowed := range transitions[m.current] {
		if allowed == next {
			m.current = next
			m.trace = append(m.trace, next)
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", m.current, next)
}

// fail moves to FAILED from any non-terminal state.
func (m *machine) fail() {
	if !m.current.Terminal() {
		m.current = StateFailed
		m.trace = append(m.trace, StateFailed)
	}
}
