package process

import (
	"context"
	"time"
)

// StreamCombined tags chunks read from the merged stdout+stderr stream.
const StreamCombined = "combined"

// Chunk is one read's worth of decoded child output.
type Chunk struct {
	Text   string
	At     time.Time
	Stream string
}

// Spec describes the child to launch.
type Spec struct {
	Path string
	Args []string
	Dir  string   // created with 0o755 when missing
	Env  []string // nil inherits the parent environment
}

// Handle represents a running child process.
type Handle interface {
	ID() string
	PID() int
	Write(line string) error
	Output() <-chan Chunk
	Done() <-chan struct{}
	ExitCode() int
	Terminate() error
}

// Spawner launches child processes.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Handle, error)
}
