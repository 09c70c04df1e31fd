// Package classifier maps steamcmd output text to protocol signals using a
// configurable marker table. It performs no I/O.
package classifier

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/peterje/steamsession/internal/config"
)

// Kind identifies a protocol signal.
type Kind int

const (
	CredentialPromptSeen Kind = iota + 1
	// LoginResponseSeen marks steamcmd answering the login line.
	LoginResponseSeen
	TwoFactorChallengeSeen
	TwoFactorCodeRequested
	AuthenticationSucceeded
	AuthenticationFailed
	// ProcessExited is never produced by the classifier; the session
	// synthesizes it when the child is reaped.
	ProcessExited
)

func (k Kind) String() string {
	switch k {
	case CredentialPromptSeen:
		return "credential_prompt_seen"
	case LoginResponseSeen:
		return "login_response_seen"
	case TwoFactorChallengeSeen:
		return "two_factor_challenge_seen"
	case TwoFactorCodeRequested:
		return "two_factor_code_requested"
	case AuthenticationSucceeded:
		return "authentication_succeeded"
	case AuthenticationFailed:
		return "authentication_failed"
	case ProcessExited:
		return "process_exited"
	default:
		return "unknown"
	}
}

// Signal is one inferred protocol event.
type Signal struct {
	Kind     Kind
	Reason   string // AuthenticationFailed: the output line carrying the marker
	ExitCode int    // ProcessExited only

	// End is the offset just past the marker in the classified text.
	End int
	// Prompt is set when the marker is also a credential prompt marker,
	// like a bare "Steam>" that only means steamcmd is waiting for input.
	Prompt bool
}

// Rule maps a marker substring to a signal kind. The same marker may
// appear in several rules.
type Rule struct {
	Kind   Kind
	Marker string
}

// Rules is an ordered marker table. Order breaks ties between signals
// whose markers start at the same position.
type Rules []Rule

// DefaultRules returns the table for stock steamcmd output.
func DefaultRules() Rules {
	return RulesFrom(config.DefaultMarkers())
}

// RulesFrom builds a table from configured markers. Empty markers are skipped.
func RulesFrom(m config.Markers) Rules {
	var rules Rules
	add := func(k Kind, markers []string) {
		for _, s := range markers {
			if s != "" {
				rules = append(rules, Rule{Kind: k, Marker: s})
			}
		}
	}
	add(CredentialPromptSeen, m.CredentialPrompt)
	add(LoginResponseSeen, m.LoginResponse)
	add(TwoFactorChallengeSeen, m.TwoFactorChallenge)
	add(TwoFactorCodeRequested, m.TwoFactorCode)
	add(AuthenticationSucceeded, m.Success)
	add(AuthenticationFailed, m.Failure)
	return rules
}

func (r Rules) isPrompt(marker string) bool {
	for _, rule := range r {
		if rule.Kind == CredentialPromptSeen && rule.Marker == marker {
			return true
		}
	}
	return false
}

func (r Rules) longest() int {
	n := 0
	for _, rule := range r {
		if len(rule.Marker) > n {
			n = len(rule.Marker)
		}
	}
	return n
}

// Match returns the signals present in text. Each kind appears at most
// once, ordered by the position of its earliest marker.
func Match(rules Rules, text string) []Signal {
	return match(rules, text, 0)
}

type hit struct {
	pos   int
	order int
	sig   Signal
}

// match ignores occurrences that end at or before minEnd.
func match(rules Rules, text string, minEnd int) []Signal {
	byKind := make(map[Kind]*hit)
	for i, rule := range rules {
		pos := indexEndingAfter(text, rule.Marker, minEnd)
		if pos < 0 {
			continue
		}
		if h, ok := byKind[rule.Kind]; ok && h.pos <= pos {
			continue
		}
		sig := Signal{Kind: rule.Kind, End: pos + len(rule.Marker)}
		if rule.Kind != CredentialPromptSeen {
			sig.Prompt = rules.isPrompt(rule.Marker)
		}
		if rule.Kind == AuthenticationFailed {
			sig.Reason = lineAt(text, pos, len(rule.Marker))
		}
		order := i
		if h, ok := byKind[rule.Kind]; ok {
			order = h.order
		}
		byKind[rule.Kind] = &hit{pos: pos, order: order, sig: sig}
	}
	if len(byKind) == 0 {
		return nil
	}

	hits := make([]*hit, 0, len(byKind))
	for _, h := range byKind {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}
		return hits[i].order < hits[j].order
	})

	out := make([]Signal, len(hits))
	for i, h := range hits {
		out[i] = h.sig
	}
	return out
}

// indexEndingAfter finds the first occurrence of marker whose end lies
// beyond minEnd.
func indexEndingAfter(text, marker string, minEnd int) int {
	start := minEnd - len(marker) + 1
	if start < 0 {
		start = 0
	}
	if start > len(text) {
		return -1
	}
	i := strings.Index(text[start:], marker)
	if i < 0 {
		return -1
	}
	return start + i
}

// lineAt returns the trimmed line around text[pos:pos+n].
func lineAt(text string, pos, n int) string {
	begin := strings.LastIndexAny(text[:pos], "\r\n") + 1
	end := len(text)
	if i := strings.IndexAny(text[pos+n:], "\r\n"); i >= 0 {
		end = pos + n + i
	}
	line := strings.TrimSpace(text[begin:end])
	if line == "" {
		return strings.TrimSpace(text[pos : pos+n])
	}
	return line
}

// Classifier classifies successive chunks of one output stream. It keeps
// just enough of the previous chunk to catch a marker split across reads.
type Classifier struct {
	rules Rules
	keep  int
	tail  string
}

// New creates a Classifier over rules.
func New(rules Rules) *Classifier {
	keep := rules.longest() - 1
	if keep < 0 {
		keep = 0
	}
	return &Classifier{rules: rules, keep: keep}
}

// Feed classifies a newly arrived chunk. A marker occurrence is reported
// once even when it straddles two chunks. Signal.End is relative to text.
func (c *Classifier) Feed(text string) []Signal {
	joined := c.tail + text
	sigs := match(c.rules, joined, len(c.tail))
	for i := range sigs {
		sigs[i].End -= len(c.tail)
	}
	c.tail = suffix(joined, c.keep)
	return sigs
}

// Rules returns the classifier's marker table.
func (c *Classifier) Rules() Rules { return c.rules }

// Reset forgets the kept tail.
func (c *Classifier) Reset() {
	c.tail = ""
}

// suffix returns at most n trailing bytes of s, starting on a rune boundary.
func suffix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
