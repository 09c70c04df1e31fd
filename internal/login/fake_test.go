package login

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/peterje/steamsession/internal/config"
	"github.com/peterje/steamsession/internal/process"
)

// fakeHandle is a scripted steamcmd child.
type fakeHandle struct {
	out  chan process.Chunk
	done chan struct{}

	terminated atomic.Int32

	mu       sync.Mutex
	closed   bool
	writes   []string
	writeErr error
	exitCode int
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		out:      make(chan process.Chunk),
		done:     make(chan struct{}),
		exitCode: -1,
	}
}

func (f *fakeHandle) ID() string                   { return "fake" }
func (f *fakeHandle) PID() int                     { return 4242 }
func (f *fakeHandle) Output() <-chan process.Chunk { return f.out }
func (f *fakeHandle) Done() <-chan struct{}        { return f.done }

func (f *fakeHandle) ExitCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitCode
}

func (f *fakeHandle) Write(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if f.closed {
		return process.ErrProcessNotRunning
	}
	f.writes = append(f.writes, line)
	return nil
}

func (f *fakeHandle) Terminate() error {
	f.terminated.Add(1)
	f.finish(143)
	return nil
}

// finish ends the output stream and reaps the child with code.
func (f *fakeHandle) finish(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.exitCode = code
	close(f.out)
	close(f.done)
}

// trySend delivers text and returns once the session has processed it.
func (f *fakeHandle) trySend(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.out <- process.Chunk{Text: text, At: time.Now(), Stream: process.StreamCombined}
	// The run loop takes the next chunk only after finishing this one.
	f.out <- process.Chunk{}
	return true
}

func (f *fakeHandle) send(t *testing.T, text string) {
	t.Helper()
	if !f.trySend(text) {
		t.Fatalf("send %q after child exited", text)
	}
}

func (f *fakeHandle) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeHandle) waitWrites(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w := f.written(); len(w) >= n {
			return w
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d writes, got %q", n, f.written())
	return nil
}

type fakeSpawner struct {
	mu      sync.Mutex
	err     error
	specs   []process.Spec
	handles []*fakeHandle
}

func (s *fakeSpawner) Spawn(_ context.Context, spec process.Spec) (process.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs = append(s.specs, spec)
	if s.err != nil {
		return nil, s.err
	}
	h := newFakeHandle()
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeSpawner) last() *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handles) == 0 {
		return nil
	}
	return s.handles[len(s.handles)-1]
}

type fakeStore struct {
	refreshes atomic.Int32
}

func (s *fakeStore) Refresh() error {
	s.refreshes.Add(1)
	return nil
}

type fakeInstaller struct {
	installed atomic.Bool
	calls     atomic.Int32
	block     bool
	err       error
}

func (i *fakeInstaller) IsInstalled() bool { return i.installed.Load() }

func (i *fakeInstaller) Install(ctx context.Context) error {
	i.calls.Add(1)
	if i.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if i.err != nil {
		return i.err
	}
	i.installed.Store(true)
	return nil
}

// eventLog reads a subscription without a background goroutine.
type eventLog struct {
	ch     <-chan Event
	events []Event
}

func (l *eventLog) drain() []Event {
	for {
		select {
		case e, ok := <-l.ch:
			if !ok {
				return l.events
			}
			l.events = append(l.events, e)
		default:
			return l.events
		}
	}
}

func (l *eventLog) waitFor(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	for _, e := range l.drain() {
		if match(e) {
			return e
		}
	}
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-l.ch:
			if !ok {
				t.Fatal("subscription closed")
			}
			l.events = append(l.events, e)
			if match(e) {
				return e
			}
		case <-timeout:
			t.Fatalf("event not seen; got %+v", l.events)
		}
	}
}

func (l *eventLog) count(typ EventType) int {
	n := 0
	for _, e := range l.drain() {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (l *eventLog) last() Event {
	events := l.drain()
	if len(events) == 0 {
		return Event{}
	}
	return events[len(events)-1]
}

func isType(typ EventType) func(Event) bool {
	return func(e Event) bool { return e.Type == typ }
}

func toState(s State) func(Event) bool {
	return func(e Event) bool { return e.Type == EventStateChanged && e.To == s }
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSettings() Settings {
	return Settings{
		GuardCodeDelay: 50 * time.Millisecond,
		BufferSize:     64 * 1024,
		EventBuffer:    1024,
	}
}

type harness struct {
	m       *Manager
	spawner *fakeSpawner
	store   *fakeStore
	events  *eventLog
}

func newHarness(t *testing.T, settings Settings, opts ...Option) *harness {
	t.Helper()
	h := &harness{spawner: &fakeSpawner{}, store: &fakeStore{}}
	steam := config.Steam{Home: t.TempDir(), Executable: "/opt/steam/steamcmd.sh", Args: []string{"+@NoPromptForPassword", "0"}}
	all := append([]Option{WithLogger(discardLogger()), WithCredentialStore(h.store)}, opts...)
	h.m = NewManager(steam, settings, h.spawner, all...)
	ch, unsub := h.m.Subscribe()
	t.Cleanup(func() {
		unsub()
		h.m.Shutdown()
	})
	h.events = &eventLog{ch: ch}
	return h
}

func (h *harness) start(t *testing.T, user, pass string) *fakeHandle {
	t.Helper()
	if _, err := h.m.Start(context.Background(), Credentials{Username: user, Password: pass}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fh := h.spawner.last()
	if fh == nil {
		t.Fatal("no child spawned")
	}
	return fh
}
