package submit

// State is one step of the submission lifecycle. The machine replaces the
// nested retry/fallback branches the flow would otherwise accumulate: every
// move is a named transition, and anything not listed is rejected.
type State string

const (
	StateIdle       State = "IDLE"
	StateValidating State = "VALIDATING"
	StateConfirming State = "CONFIRMING"
	StateSubmitting State = "SUBMITTING"
	StateSucceeded  State = "SUCCEEDED"
	StateFailed     State = "FAILED"
)

// transitions lists the legal moves. Idle jumps straight to Submitting on
// the timer's auto-submit path, which skips validation and confirmation.
// Succeeded is terminal; Failed keeps the retry affordance open.
var transitions = map[State][]State{
	StateIdle:       {StateValidating, StateSubmitting},
	StateValidating: {StateConfirming, StateSubmitting, StateIdle},
	StateConfirming: {StateSubmitting, StateIdle},
	StateSubmitting: {StateSucceeded, StateFailed},
	StateFailed:     {StateValidating, StateSubmitting},
	StateSucceeded:  {},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
