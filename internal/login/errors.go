package login

import (
	"errors"
	"fmt"
)

var (
	ErrSessionActive      = errors.New("a login session is already active")
	ErrNoSession          = errors.New("no login session")
	ErrNotAwaitingCode    = errors.New("session is not awaiting a two-factor code")
	ErrEmptyCode          = errors.New("two-factor code is empty")
	ErrInvalidCredentials = errors.New("username and password are required")
	ErrCancelled          = errors.New("login cancelled")
)

// StateError reports an operation attempted in the wrong state.
type StateError struct {
	Op    string
	State State
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v (state %s)", e.Op, e.Err, e.State)
}

func (e *StateError) Unwrap() error { return e.Err }
