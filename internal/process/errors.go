package process

import (
	"errors"
	"fmt"
)

var (
	// ErrProcessNotRunning is returned by Write after the child exited or was terminated.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrExecutableMissing matches any SpawnError whose executable does not exist.
	ErrExecutableMissing = errors.New("executable missing")
)

// SpawnKind classifies why a spawn failed.
type SpawnKind int

const (
	// ExecutableMissing means the path did not resolve to an executable file.
	ExecutableMissing SpawnKind = iota + 1
	// OSRefusal means the OS refused to start the child (permissions, limits, pty allocation).
	OSRefusal
)

func (k SpawnKind) String() string {
	switch k {
	case ExecutableMissing:
		return "executable missing"
	case OSRefusal:
		return "os refusal"
	default:
		return "unknown"
	}
}

// SpawnError is returned by Spawn when the child could not be started.
type SpawnError struct {
	Kind SpawnKind
	Path string
	Code int // errno, 0 when unknown
	Err  error
}

func (e *SpawnError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("spawn %s: %s (errno %d): %v", e.Path, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("spawn %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrExecutableMissing) match by kind.
func (e *SpawnError) Is(target error) bool {
	return target == ErrExecutableMissing && e.Kind == ExecutableMissing
}
