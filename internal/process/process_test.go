package process

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSupervisor(mode Mode) *Supervisor {
	return NewSupervisor(WithMode(mode), WithGrace(time.Second), WithLogger(testLogger()))
}

func spawnSh(t *testing.T, s *Supervisor, script string) Handle {
	t.Helper()
	h, err := s.Spawn(context.Background(), Spec{Path: "/bin/sh", Args: []string{"-c", script}, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(func() { h.Terminate() })
	return h
}

// collect reads Output until it closes or the timeout expires.
func collect(t *testing.T, h Handle, timeout time.Duration) string {
	t.Helper()
	var b strings.Builder
	deadline := time.After(timeout)
	for {
		select {
		case c, ok := <-h.Output():
			if !ok {
				return b.String()
			}
			if c.Stream != StreamCombined {
				t.Errorf("unexpected stream tag %q", c.Stream)
			}
			b.WriteString(c.Text)
		case <-deadline:
			t.Fatalf("timed out waiting for output to close; got %q", b.String())
		}
	}
}

// waitFor reads Output until the accumulated text contains want.
func waitFor(t *testing.T, h Handle, want string, timeout time.Duration) string {
	t.Helper()
	var b strings.Builder
	deadline := time.After(timeout)
	for {
		select {
		case c, ok := <-h.Output():
			if !ok {
				t.Fatalf("output closed before %q; got %q", want, b.String())
			}
			b.WriteString(c.Text)
			if strings.Contains(b.String(), want) {
				return b.String()
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q; got %q", want, b.String())
		}
	}
}

func TestPipeMergesStdoutAndStderrInOrder(t *testing.T) {
	s := newTestSupervisor(ModePipe)
	h := spawnSh(t, s, "echo one; echo two 1>&2; echo three")

	out := collect(t, h, 5*time.Second)
	if out != "one\ntwo\nthree\n" {
		t.Errorf("expected ordered merged output, got %q", out)
	}

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	if h.ExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", h.ExitCode())
	}
}

func TestWriteReachesChild(t *testing.T) {
	s := newTestSupervisor(ModePipe)
	h := spawnSh(t, s, `read line; echo "got:$line"`)

	if err := h.Write("hello"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := collect(t, h, 5*time.Second)
	if !strings.Contains(out, "got:hello") {
		t.Errorf("expected echoed input, got %q", out)
	}
}

func TestExitCode(t *testing.T) {
	s := newTestSupervisor(ModePipe)
	h := spawnSh(t, s, "exit 3")

	collect(t, h, 5*time.Second)
	<-h.Done()
	if h.ExitCode() != 3 {
		t.Errorf("expected exit code 3, got %d", h.ExitCode())
	}
	if err := h.Write("late"); !errors.Is(err, ErrProcessNotRunning) {
		t.Errorf("expected ErrProcessNotRunning after exit, got %v", err)
	}
}

func TestSpawnMissingExecutable(t *testing.T) {
	s := newTestSupervisor(ModePipe)
	_, err := s.Spawn(context.Background(), Spec{Path: filepath.Join(t.TempDir(), "steamcmd.sh")})
	if !errors.Is(err, ErrExecutableMissing) {
		t.Fatalf("expected ErrExecutableMissing, got %v", err)
	}
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SpawnError, got %T", err)
	}
	if se.Kind != ExecutableMissing {
		t.Errorf("expected ExecutableMissing kind, got %s", se.Kind)
	}
}

func TestSpawnNotExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steamcmd.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := newTestSupervisor(ModePipe)
	_, err := s.Spawn(context.Background(), Spec{Path: path})
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SpawnError, got %v", err)
	}
	if se.Kind != OSRefusal {
		t.Errorf("expected OSRefusal for a non-executable file, got %s", se.Kind)
	}
	if errors.Is(err, ErrExecutableMissing) {
		t.Error("non-executable file should not match ErrExecutableMissing")
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	s := newTestSupervisor(ModePipe)
	h := spawnSh(t, s, "sleep 30")

	if err := h.Terminate(); err != nil {
		t.Fatalf("first Terminate: %v", err)
	}
	if err := h.Terminate(); err != nil {
		t.Fatalf("second Terminate: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process survived Terminate")
	}
	if err := h.Write("x"); !errors.Is(err, ErrProcessNotRunning) {
		t.Errorf("expected ErrProcessNotRunning after Terminate, got %v", err)
	}
}

func TestNoDeliveryAfterTerminate(t *testing.T) {
	s := newTestSupervisor(ModePipe)
	h := spawnSh(t, s, "while :; do echo tick; done")

	waitFor(t, h, "tick", 5*time.Second)
	h.Terminate()

	// The pump has exited, so the channel is closed with nothing pending.
	select {
	case c, ok := <-h.Output():
		if ok {
			t.Errorf("chunk delivered after Terminate: %q", c.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("output channel not closed after Terminate")
	}
}

func TestTerminateReachesProcessGroup(t *testing.T) {
	s := newTestSupervisor(ModePipe)
	// The grandchild would keep the pipe open if only the shell died.
	h := spawnSh(t, s, "sleep 30 & wait")

	h.Terminate()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process group survived Terminate")
	}
}

func TestSupervisorTracksActive(t *testing.T) {
	s := newTestSupervisor(ModePipe)
	h := spawnSh(t, s, "sleep 30")

	if got := s.Get(h.ID()); got == nil {
		t.Fatal("expected live handle from Get")
	}
	ids := s.ListActive()
	if len(ids) != 1 || ids[0] != h.ID() {
		t.Errorf("expected [%s], got %v", h.ID(), ids)
	}

	s.TerminateAll()
	<-h.Done()

	// onExit runs right after Done closes.
	deadline := time.Now().Add(2 * time.Second)
	for len(s.ListActive()) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if ids := s.ListActive(); len(ids) != 0 {
		t.Errorf("expected no active processes, got %v", ids)
	}
	if s.Get(h.ID()) != nil {
		t.Error("expected Get to return nil after exit")
	}
}

func TestPTYDoesNotEchoInput(t *testing.T) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	ptmx.Close()
	tty.Close()

	s := newTestSupervisor(ModePTY)
	h := spawnSh(t, s, `echo ready; read line; echo "got:$line"`)

	waitFor(t, h, "ready", 5*time.Second)
	if err := h.Write("s3cret"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := collect(t, h, 5*time.Second)
	if !strings.Contains(out, "got:s3cret") {
		t.Fatalf("expected child to read the line, got %q", out)
	}
	if n := strings.Count(out, "s3cret"); n != 1 {
		t.Errorf("input echoed by the terminal: %q", out)
	}
}

func TestSpawnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newTestSupervisor(ModePipe)
	if _, err := s.Spawn(ctx, Spec{Path: "/bin/sh"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
