package login

// State is the login session state.
type State string

const (
	StateIdle                      State = "idle"
	StateLaunching                 State = "launching"
	StateAwaitingCredentials       State = "awaiting_credentials"
	StateAwaitingTwoFactorDecision State = "awaiting_two_factor_decision"
	StateAwaitingTwoFactorCode     State = "awaiting_two_factor_code"
	StateAuthenticated             State = "authenticated"
	StateFailed                    State = "failed"
	StateTerminated                State = "terminated"
)

var transitions = map[State][]State{
	StateIdle:                      {StateLaunching},
	StateLaunching:                 {StateAwaitingCredentials, StateFailed, StateTerminated},
	StateAwaitingCredentials:       {StateAwaitingTwoFactorDecision, StateAuthenticated, StateFailed, StateTerminated},
	StateAwaitingTwoFactorDecision: {StateAwaitingTwoFactorCode, StateAuthenticated, StateFailed, StateTerminated},
	StateAwaitingTwoFactorCode:     {StateAuthenticated, StateFailed, StateTerminated},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s accepts no further input.
func (s State) Terminal() bool {
	return s == StateAuthenticated || s == StateFailed || s == StateTerminated
}

func (s State) awaiting() bool {
	return s == StateAwaitingCredentials || s == StateAwaitingTwoFactorDecision || s == StateAwaitingTwoFactorCode
}
