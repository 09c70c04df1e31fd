// Package process owns child process lifecycles: spawn, line input,
// ordered asynchronous output and termination. It knows nothing about
// the protocol spoken by the child.
package process

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// Mode selects how the child's standard streams are wired.
type Mode string

const (
	// ModePTY gives the child a pseudo-terminal; stdout and stderr are one stream.
	ModePTY Mode = "pty"
	// ModePipe uses a single pipe for both stdout and stderr.
	ModePipe Mode = "pipe"
)

const defaultGrace = 5 * time.Second

// Supervisor spawns children and tracks the ones still running.
type Supervisor struct {
	mode  Mode
	grace time.Duration
	size  pty.Winsize
	log   *slog.Logger

	mu    sync.RWMutex
	procs map[string]*Process
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithMode sets the stream wiring mode.
func WithMode(m Mode) Option {
	return func(s *Supervisor) { s.mode = m }
}

// WithGrace sets the SIGTERM to SIGKILL delay.
func WithGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// NewSupervisor creates a Supervisor. The default mode is ModePTY.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		mode:  ModePTY,
		grace: defaultGrace,
		size:  pty.Winsize{Rows: 40, Cols: 120},
		log:   slog.Default(),
		procs: make(map[string]*Process),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "process")
	return s
}

// Spawn starts the child described by spec.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkExecutable(spec.Path); err != nil {
		return nil, err
	}
	if spec.Dir != "" {
		if err := os.MkdirAll(spec.Dir, 0o755); err != nil {
			return nil, spawnError(spec.Path, fmt.Errorf("working dir: %w", err))
		}
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	id := uuid.New().String()[:8]
	log := s.log.With("proc", id)

	var (
		p   *Process
		err error
	)
	switch s.mode {
	case ModePipe:
		p, err = s.startPipe(id, cmd, log)
	default:
		p, err = s.startPTY(id, cmd, log)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.procs[id] = p
	s.mu.Unlock()

	p.start(func() {
		s.mu.Lock()
		delete(s.procs, id)
		s.mu.Unlock()
	})

	log.Info("child started", "path", spec.Path, "pid", p.PID(), "mode", string(s.mode))
	return p, nil
}

func (s *Supervisor) startPTY(id string, cmd *exec.Cmd, log *slog.Logger) (*Process, error) {
	ptmx, tty, err := openRawPTY(&s.size)
	if err != nil {
		return nil, spawnError(cmd.Path, err)
	}

	cmd.Stdin = tty
	cmd.Stdout = tty
	cmd.Stderr = tty
	// New session with the pty as controlling terminal; the child leads its
	// own process group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := cmd.Start(); err != nil {
		ptmx.Close()
		tty.Close()
		return nil, spawnError(cmd.Path, err)
	}
	// The child holds its own copy; the master sees EIO once it is gone.
	tty.Close()

	return newProcess(id, cmd, ptmx, ptmx, s.grace, log), nil
}

func (s *Supervisor) startPipe(id string, cmd *exec.Cmd, log *slog.Logger) (*Process, error) {
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, spawnError(cmd.Path, err)
	}
	cmd.Stdout = outW
	cmd.Stderr = outW
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, spawnError(cmd.Path, err)
	}

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		return nil, spawnError(cmd.Path, err)
	}
	outW.Close()

	return newProcess(id, cmd, stdin, outR, s.grace, log), nil
}

// Get returns the live handle with the given ID, or nil.
func (s *Supervisor) Get(id string) Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.procs[id]
	if p == nil {
		return nil
	}
	return p
}

// ListActive returns the IDs of children that have not exited.
func (s *Supervisor) ListActive() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	return ids
}

// TerminateAll terminates every live child.
func (s *Supervisor) TerminateAll() {
	s.mu.RLock()
	procs := make([]*Process, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	s.mu.RUnlock()

	for _, p := range procs {
		p.Terminate()
	}
}

func checkExecutable(path string) error {
	if path == "" {
		return &SpawnError{Kind: ExecutableMissing, Path: path, Err: errors.New("empty path")}
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return spawnError(path, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return spawnError(path, err)
	}
	if info.IsDir() {
		return &SpawnError{Kind: ExecutableMissing, Path: path, Err: fmt.Errorf("%s is a directory", resolved)}
	}
	return nil
}

func spawnError(path string, err error) *SpawnError {
	se := &SpawnError{Kind: OSRefusal, Path: path, Err: err}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
		se.Kind = ExecutableMissing
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		se.Code = int(errno)
		if errno == syscall.ENOENT {
			se.Kind = ExecutableMissing
		}
	}
	return se
}
