package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/peterje/steamsession/internal/classifier"
	"github.com/peterje/steamsession/internal/process"
)

const redacted = "********"

const (
	reasonCancelled     = "cancelled"
	reasonLaunchTimeout = "timed out waiting for steamcmd prompt"
	reasonLoginTimeout  = "timed out waiting for steamcmd to answer the login"
)

// Session is one interactive steamcmd login run. All state is guarded by
// mu; the run loop is the only consumer of child output and the writer
// goroutine is the only writer to the child.
type Session struct {
	id        string
	username  string
	password  string
	startedAt time.Time

	settings   Settings
	afterLogin []string
	store      CredentialStore
	publish    func(Event)
	log        *slog.Logger

	classifier *classifier.Classifier
	input      *lineQueue
	quit       chan struct{} // closed when the run loop exits
	abort      context.CancelFunc

	mu            sync.Mutex
	state         State
	handle        process.Handle
	buf           *outputBuffer
	responded     bool // steamcmd answered the login line
	pendingCode   bool
	codeSubmitted bool
	completed     bool
	reason        string
	exited        bool
	guardSeq      int
	guardTimer    *time.Timer
	launchSeq     int
	launchTimer   *time.Timer
	refreshOnce   sync.Once
}

func newSession(id string, creds Credentials, settings Settings, rules classifier.Rules, store CredentialStore, publish func(Event), log *slog.Logger) *Session {
	after := creds.AfterLogin
	if len(after) == 0 {
		after = settings.AfterLogin
	}
	return &Session{
		id:         id,
		username:   creds.Username,
		password:   creds.Password,
		startedAt:  time.Now(),
		settings:   settings,
		afterLogin: after,
		store:      store,
		publish:    publish,
		log:        log,
		classifier: classifier.New(rules),
		input:      newLineQueue(),
		quit:       make(chan struct{}),
		state:      StateIdle,
		buf:        newOutputBuffer(settings.BufferSize),
	}
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Snapshot returns the session's current view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		SessionID: s.id,
		State:     s.state,
		Username:  s.username,
		NeedsCode: s.pendingCode,
		Output:    s.buf.String(),
		Reason:    s.reason,
		StartedAt: s.startedAt,
		Running:   s.running(),
	}
	if s.handle != nil {
		snap.PID = s.handle.PID()
	}
	return snap
}

// active reports whether the session blocks a new Start.
func (s *Session) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.state.Terminal() || s.running()
}

func (s *Session) running() bool {
	return s.handle != nil && !s.exited
}

// emit publishes e unless the session already completed. Caller holds mu.
func (s *Session) emit(e Event) {
	if s.completed {
		return
	}
	e.SessionID = s.id
	e.Username = s.username
	e.At = time.Now()
	s.publish(e)
}

// transition moves to the given state. Caller holds mu.
func (s *Session) transition(to State) bool {
	from := s.state
	if !CanTransition(from, to) {
		s.log.Error("illegal transition ignored", "from", from, "to", to)
		return false
	}
	s.state = to
	s.log.Info("state changed", "from", from, "to", to)
	s.emit(Event{Type: EventStateChanged, From: from, To: to})
	return true
}

// complete publishes the final event. Caller holds mu.
func (s *Session) complete(success bool, reason string) {
	s.stopTimers()
	s.pendingCode = false
	s.reason = reason
	s.emit(Event{Type: EventCompleted, Success: success, Reason: reason})
	s.completed = true
	s.log.Info("session completed", "success", success, "reason", reason)
}

// begin moves the session from idle to launching.
func (s *Session) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transition(StateLaunching)
}

// note appends a line of session commentary to the output.
func (s *Session) note(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendOutput(text + "\n")
}

// fail ends a session that never got a child.
func (s *Session) fail(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.transition(StateFailed)
	s.complete(false, reason)
}

// attach hands the spawned child to the session and starts its loops.
// It reports false when the session was cancelled while spawning.
func (s *Session) attach(h process.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.handle = h
	go s.writeLoop(h)
	go s.run(h)

	if s.settings.EagerCredentials {
		s.sendLogin()
		s.transition(StateAwaitingCredentials)
	}
	s.startLaunchTimer()
	return true
}

// run consumes child output in arrival order until the stream ends, then
// reports the exit.
func (s *Session) run(h process.Handle) {
	defer close(s.quit)
	for c := range h.Output() {
		s.handleChunk(c.Text)
	}
	<-h.Done()
	s.handleExit(h.ExitCode())
}

// chunkAction tells handleChunk what to do after a signal.
type chunkAction int

const (
	nextSignal  chunkAction = iota
	dropChunk               // ignore the rest of the chunk
	rescanChunk             // classify again after the signal's marker
)

func (s *Session) handleChunk(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendOutput(text)
	sigs := s.classifier.Feed(text)
	rest := text
	for len(sigs) > 0 {
		sig := sigs[0]
		sigs = sigs[1:]
		switch s.apply(sig) {
		case dropChunk:
			return
		case rescanChunk:
			// Each kind is reported once per scan, so a later marker of the
			// same kind may hide behind the ignored one.
			rest = rest[sig.End:]
			sigs = classifier.Match(s.classifier.Rules(), rest)
		}
	}
}

// appendOutput buffers and publishes text with the password masked.
// Caller holds mu.
func (s *Session) appendOutput(text string) {
	if s.password != "" {
		text = strings.ReplaceAll(text, s.password, redacted)
	}
	s.buf.append(text)
	s.emit(Event{Type: EventOutput, Text: text})
}

// apply handles one signal and says how to treat the rest of the chunk.
// Caller holds mu.
func (s *Session) apply(sig classifier.Signal) chunkAction {
	s.log.Debug("signal", "kind", sig.Kind.String(), "state", s.state)

	if sig.Kind != classifier.CredentialPromptSeen && !sig.Prompt {
		s.markResponded()
	}

	switch sig.Kind {
	case classifier.CredentialPromptSeen:
		if s.state == StateLaunching {
			s.sendLogin()
			s.transition(StateAwaitingCredentials)
			s.startLaunchTimer()
			// Written before the child could read the login line.
			return dropChunk
		}
		// Later prompts only mean steamcmd is waiting for input.

	case classifier.TwoFactorChallengeSeen:
		if s.state == StateAwaitingCredentials {
			s.transition(StateAwaitingTwoFactorDecision)
			s.startGuardTimer()
		}

	case classifier.TwoFactorCodeRequested:
		switch s.state {
		case StateAwaitingCredentials:
			s.transition(StateAwaitingTwoFactorDecision)
			fallthrough
		case StateAwaitingTwoFactorDecision:
			s.stopGuardTimer()
			s.transition(StateAwaitingTwoFactorCode)
			s.requestCode()
		case StateAwaitingTwoFactorCode:
			if s.codeSubmitted {
				s.requestCode()
			}
		}

	case classifier.AuthenticationSucceeded:
		if !s.state.awaiting() {
			return nextSignal
		}
		if sig.Prompt && !s.responded {
			s.log.Debug("prompt before login response is not a success")
			return rescanChunk
		}
		s.transition(StateAuthenticated)
		s.enqueueFollowUp()
		s.refreshStore()
		s.complete(true, "")
		return dropChunk

	case classifier.AuthenticationFailed:
		if !s.state.awaiting() {
			return nextSignal
		}
		s.transition(StateFailed)
		s.complete(false, sig.Reason)
		s.terminateChild()
		return dropChunk
	}
	return nextSignal
}

// markResponded records that steamcmd reacted to the login line. Caller
// holds mu.
func (s *Session) markResponded() {
	if s.responded || !s.state.awaiting() {
		return
	}
	s.responded = true
	s.stopLaunchTimer()
}

// handleExit reports a child that went away before the session ended.
func (s *Session) handleExit(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exited = true
	if s.state.Terminal() {
		return
	}
	s.log.Warn("steamcmd exited before login finished", "exit_code", code)
	s.transition(StateFailed)
	s.complete(false, fmt.Sprintf("steamcmd exited unexpectedly (code %d)", code))
}

// SubmitCode queues a two-factor code for the child.
func (s *Session) SubmitCode(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrEmptyCode
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingTwoFactorCode {
		return &StateError{Op: "submit code", State: s.state, Err: ErrNotAwaitingCode}
	}
	s.log.Info("two-factor code submitted")
	s.input.push(code)
	s.pendingCode = false
	s.codeSubmitted = true
	return nil
}

// Cancel ends the session and terminates the child. In a terminal state it
// only stops a child that is still running.
func (s *Session) Cancel() {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.transition(StateTerminated)
		s.complete(false, reasonCancelled)
	}
	h := s.handle
	abort := s.abort
	s.mu.Unlock()

	if abort != nil {
		abort()
	}
	if h != nil {
		h.Terminate()
	}
}

// writeLoop drains the pending-input queue into the child.
func (s *Session) writeLoop(h process.Handle) {
	for {
		line, ok := s.input.pop(s.quit)
		if !ok {
			return
		}
		if err := h.Write(line); err != nil {
			s.writeFailed(err)
		}
	}
}

func (s *Session) writeFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Warn("input dropped", "error", err)
	msg := "input dropped: " + err.Error()
	if errors.Is(err, process.ErrProcessNotRunning) {
		msg = "input dropped: steamcmd is not running"
	}
	s.emit(Event{Type: EventWarning, Text: msg})
}

// Caller holds mu for the helpers below.

func (s *Session) sendLogin() {
	s.log.Info("sending credentials", "username", s.username)
	s.input.push(fmt.Sprintf("login %s %s", s.username, s.password))
}

func (s *Session) requestCode() {
	s.pendingCode = true
	s.codeSubmitted = false
	s.emit(Event{Type: EventCodeRequested})
}

func (s *Session) enqueueFollowUp() {
	if len(s.afterLogin) == 0 {
		// Nothing else to do; let steamcmd flush its config and exit.
		s.input.push("quit")
		return
	}
	for _, line := range s.afterLogin {
		s.log.Info("queueing follow-up command", "command", line)
		s.input.push(line)
	}
}

func (s *Session) refreshStore() {
	if s.store == nil {
		return
	}
	s.refreshOnce.Do(func() {
		go func() {
			if err := s.store.Refresh(); err != nil {
				s.log.Warn("credential store refresh failed", "error", err)
			}
		}()
	})
}

func (s *Session) terminateChild() {
	if h := s.handle; h != nil {
		go h.Terminate()
	}
}

func (s *Session) startGuardTimer() {
	s.stopGuardTimer()
	seq := s.guardSeq
	s.guardTimer = time.AfterFunc(s.settings.GuardCodeDelay, func() { s.onGuardTimeout(seq) })
}

func (s *Session) stopGuardTimer() {
	s.guardSeq++
	if s.guardTimer != nil {
		s.guardTimer.Stop()
		s.guardTimer = nil
	}
}

// startLaunchTimer bounds the wait for the first prompt and then for the
// answer to the login line.
func (s *Session) startLaunchTimer() {
	s.stopLaunchTimer()
	d := s.settings.LaunchTimeout
	if d <= 0 {
		return
	}
	seq := s.launchSeq
	s.launchTimer = time.AfterFunc(d, func() { s.onLaunchTimeout(seq) })
}

func (s *Session) stopLaunchTimer() {
	s.launchSeq++
	if s.launchTimer != nil {
		s.launchTimer.Stop()
		s.launchTimer = nil
	}
}

func (s *Session) stopTimers() {
	s.stopGuardTimer()
	s.stopLaunchTimer()
}

// onGuardTimeout asks for a manual code when mobile approval did not arrive.
func (s *Session) onGuardTimeout(seq int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.guardSeq || s.state != StateAwaitingTwoFactorDecision {
		return
	}
	s.guardTimer = nil
	s.log.Info("no mobile approval, asking for a code", "after", s.settings.GuardCodeDelay)
	s.transition(StateAwaitingTwoFactorCode)
	s.requestCode()
}

func (s *Session) onLaunchTimeout(seq int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.launchSeq || s.responded {
		return
	}
	reason := reasonLaunchTimeout
	switch s.state {
	case StateLaunching:
	case StateAwaitingCredentials:
		reason = reasonLoginTimeout
	default:
		return
	}
	s.launchTimer = nil
	s.log.Warn("steamcmd did not respond", "state", s.state, "after", s.settings.LaunchTimeout)
	s.transition(StateFailed)
	s.complete(false, reason)
	s.terminateChild()
}
