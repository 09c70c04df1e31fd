package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const (
	readBufSize = 32 * 1024

	// drainTimeout bounds how long the reader may keep going after the child
	// was reaped; a grandchild can hold the write side open.
	drainTimeout = 500 * time.Millisecond
)

// Process is a running child. It implements Handle.
type Process struct {
	id  string
	cmd *exec.Cmd
	log *slog.Logger

	stdin  io.WriteCloser
	reader io.ReadCloser

	grace time.Duration

	queue    *chunkQueue
	out      chan Chunk
	stop     chan struct{}
	pumpDone chan struct{}
	readDone chan struct{}
	done     chan struct{}

	writeMu sync.Mutex
	closed  atomic.Bool

	exitCode  atomic.Int64
	termOnce  sync.Once
	closeOnce sync.Once
}

func newProcess(id string, cmd *exec.Cmd, stdin io.WriteCloser, reader io.ReadCloser, grace time.Duration, log *slog.Logger) *Process {
	p := &Process{
		id:       id,
		cmd:      cmd,
		log:      log,
		stdin:    stdin,
		reader:   reader,
		grace:    grace,
		queue:    newChunkQueue(),
		out:      make(chan Chunk),
		stop:     make(chan struct{}),
		pumpDone: make(chan struct{}),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.exitCode.Store(-1)
	return p
}

// start launches the reader, pump and wait goroutines. onExit runs once
// the child has been reaped.
func (p *Process) start(onExit func()) {
	go p.readLoop()
	go p.pump()
	go p.waitLoop(onExit)
}

func (p *Process) ID() string { return p.id }

func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Output returns the ordered stream of output chunks. It is closed at end
// of stream or on Terminate.
func (p *Process) Output() <-chan Chunk { return p.out }

// Done is closed when the child has been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitCode is the child's exit status, 128+signal when it was killed by a
// signal, or -1 while it is still running.
func (p *Process) ExitCode() int { return int(p.exitCode.Load()) }

// Write sends one newline-terminated line to the child's input.
func (p *Process) Write(line string) error {
	if p.closed.Load() {
		return ErrProcessNotRunning
	}
	select {
	case <-p.done:
		return ErrProcessNotRunning
	default:
	}

	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := io.WriteString(p.stdin, line); err != nil {
		return fmt.Errorf("%w: %v", ErrProcessNotRunning, err)
	}
	return nil
}

// Terminate stops delivery, signals the process group with SIGTERM and
// escalates to SIGKILL after the grace period. Safe to call repeatedly.
// When it returns no further chunk will be delivered.
func (p *Process) Terminate() error {
	p.termOnce.Do(func() {
		p.closed.Store(true)
		close(p.stop)

		select {
		case <-p.done:
		default:
			p.signal(syscall.SIGTERM)
			go p.escalate()
		}
		p.closeIO()
	})
	<-p.pumpDone
	return nil
}

func (p *Process) escalate() {
	t := time.NewTimer(p.grace)
	defer t.Stop()
	select {
	case <-p.done:
	case <-t.C:
		p.log.Warn("child ignored SIGTERM, killing", "pid", p.PID(), "grace", p.grace)
		p.signal(syscall.SIGKILL)
	}
}

// signal delivers sig to the child's process group, falling back to the
// child alone.
func (p *Process) signal(sig syscall.Signal) {
	pid := p.PID()
	if pid <= 0 {
		return
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, syscall.ESRCH) {
			p.log.Debug("signal failed", "pid", pid, "signal", sig, "error", err)
		}
	}
}

func (p *Process) closeIO() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		if p.stdin != nil {
			p.stdin.Close()
		}
		if p.reader != nil && any(p.reader) != any(p.stdin) {
			p.reader.Close()
		}
	})
}

// readLoop reads until EOF or error and queues decoded text. It blocks
// only on the read itself.
func (p *Process) readLoop() {
	defer close(p.readDone)
	defer p.queue.close()

	var dec decoder
	buf := make([]byte, readBufSize)
	for {
		n, err := p.reader.Read(buf)
		if n > 0 {
			if text := dec.decode(buf[:n]); text != "" {
				p.queue.push(Chunk{Text: text, At: time.Now(), Stream: StreamCombined})
			}
		}
		if err != nil {
			// A pty master reports EIO once the slave side is gone.
			if !errors.Is(err, io.EOF) && !errors.Is(err, syscall.EIO) && !p.closed.Load() {
				p.log.Debug("output read ended", "pid", p.PID(), "error", err)
			}
			break
		}
	}
	if rest := dec.flush(); rest != "" {
		p.queue.push(Chunk{Text: rest, At: time.Now(), Stream: StreamCombined})
	}
}

// pump moves chunks from the queue to the unbuffered output channel.
func (p *Process) pump() {
	defer close(p.pumpDone)
	defer close(p.out)

	for {
		c, ok := p.queue.pop(p.stop)
		if !ok {
			return
		}
		select {
		case p.out <- c:
		case <-p.stop:
			return
		}
	}
}

func (p *Process) waitLoop(onExit func()) {
	err := p.cmd.Wait()
	p.exitCode.Store(int64(exitStatus(p.cmd, err)))
	close(p.done)
	p.log.Info("child exited", "pid", p.PID(), "exit_code", p.ExitCode())
	if onExit != nil {
		onExit()
	}

	t := time.NewTimer(drainTimeout)
	defer t.Stop()
	select {
	case <-p.readDone:
	case <-t.C:
	}
	p.closeIO()
}

func exitStatus(cmd *exec.Cmd, err error) int {
	ps := cmd.ProcessState
	if ps == nil {
		if err != nil {
			return -1
		}
		return 0
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ps.ExitCode()
}
