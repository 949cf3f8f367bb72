package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/acolita/sshx/internal/security"
)

// ErrAuthenticationFailed is returned once the login client shows output that
// means the injected credential was not accepted.
var ErrAuthenticationFailed = errors.New("authentication failed")

// State is the injection protocol state. Transitions only move forward.
type State int

const (
	AwaitingFirstPrompt State = iota
	Injected
	Rejected
)

func (s State) String() string {
	switch s {
	case AwaitingFirstPrompt:
		return "awaiting-first-prompt"
	case Injected:
		return "injected"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode selects how the first prompt is recognised.
type Mode string

const (
	// ModeFirstOutput treats the first output chunk of any content as the prompt.
	ModeFirstOutput Mode = "first-output"
	// ModeMatch waits for output matching a password pattern.
	ModeMatch Mode = "match"
)

// ParseMode validates a configured mode name. The empty string selects
// ModeFirstOutput.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeFirstOutput:
		return ModeFirstOutput, nil
	case ModeMatch:
		return ModeMatch, nil
	}
	return "", fmt.Errorf("unknown prompt mode %q (want %q or %q)", s, ModeFirstOutput, ModeMatch)
}

// Injector consumes output chunks from the login client and decides when to
// write the credential back. Feed writes at most once per Injector.
type Injector interface {
	Feed(chunk []byte, w io.Writer) error
	State() State
	Close() error
}

// New returns the injector for mode. The credential is copied; the caller may
// wipe its own slice. d is only used by ModeMatch and may be nil.
func New(mode Mode, credential []byte, d *Detector) (Injector, error) {
	switch mode {
	case "", ModeFirstOutput:
		return NewOneShot(credential), nil
	case ModeMatch:
		return NewMatcher(credential, d), nil
	}
	return nil, fmt.Errorf("unknown prompt mode %q", mode)
}

// writeCredential performs the single write of credential plus newline.
func writeCredential(w io.Writer, cred *security.SecureBytes) error {
	if err := cred.WriteLine(w); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	return nil
}

// OneShot answers the first output chunk with the credential. Any output
// after that is taken as a rejection.
type OneShot struct {
	cred  *security.SecureBytes
	state State
}

// NewOneShot creates a OneShot injector.
func NewOneShot(credential []byte) *OneShot {
	return &OneShot{cred: security.NewSecureBytes(credential)}
}

// Feed implements Injector. Empty chunks are ignored.
func (o *OneShot) Feed(chunk []byte, w io.Writer) error {
	switch o.state {
	case Rejected:
		return ErrAuthenticationFailed
	case Injected:
		if len(chunk) == 0 {
			return nil
		}
		o.state = Rejected
		slog.Warn("output after credential injection, treating as rejected",
			slog.Int("bytes", len(chunk)),
		)
		return ErrAuthenticationFailed
	}

	if len(chunk) == 0 {
		return nil
	}
	if err := writeCredential(w, o.cred); err != nil {
		return err
	}
	o.state = Injected
	slog.Debug("credential injected", slog.String("mode", string(ModeFirstOutput)))
	return nil
}

// State implements Injector.
func (o *OneShot) State() State { return o.state }

// Close wipes the held credential.
func (o *OneShot) Close() error {
	o.cred.Wipe()
	return nil
}

// maxPending bounds the output kept for pattern matching.
const maxPending = 4096

// Matcher injects only when the output ends in a password prompt. A second
// password prompt or an explicit refusal after injection is a rejection,
// until a complete line of other output shows the login was accepted.
// Output is left to the caller to pass through.
type Matcher struct {
	detector *Detector
	cred     *security.SecureBytes
	state    State
	pending  []byte
	accepted bool // login is past authentication; output is no longer checked
}

// NewMatcher creates a Matcher. A nil detector uses the default patterns.
func NewMatcher(credential []byte, d *Detector) *Matcher {
	if d == nil {
		d = NewDetector()
	}
	return &Matcher{
		detector: d,
		cred:     security.NewSecureBytes(credential),
	}
}

// Feed implements Injector.
func (m *Matcher) Feed(chunk []byte, w io.Writer) error {
	if m.state == Rejected {
		return ErrAuthenticationFailed
	}
	if len(chunk) == 0 || m.accepted {
		return nil
	}

	m.pending = append(m.pending, chunk...)
	if len(m.pending) > maxPending {
		m.pending = m.pending[len(m.pending)-maxPending:]
	}

	det := m.detector.Detect(string(m.pending))
	if det == nil {
		if m.state == Injected && hasCompleteLine(m.pending) {
			m.accepted = true
			m.pending = nil
			slog.Debug("login accepted, rejection checks stopped")
		}
		return nil
	}

	switch {
	case det.IsRejection():
		return m.reject(det)
	case det.IsPasswordPrompt() && m.state == Injected:
		return m.reject(det)
	case det.IsPasswordPrompt():
		if err := writeCredential(w, m.cred); err != nil {
			return err
		}
		m.state = Injected
		m.pending = m.pending[:0]
		slog.Debug("credential injected",
			slog.String("mode", string(ModeMatch)),
			slog.String("pattern", det.Pattern.Name),
		)
	}
	return nil
}

// Accepted reports whether output after the injection showed the login got
// past authentication. Later prompts and refusals belong to the remote
// session and are not rejections.
func (m *Matcher) Accepted() bool { return m.accepted }

// hasCompleteLine reports whether b holds a newline-terminated line with
// visible content.
func hasCompleteLine(b []byte) bool {
	for {
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			return false
		}
		if len(bytes.TrimSpace(b[:i])) > 0 {
			return true
		}
		b = b[i+1:]
	}
}

func (m *Matcher) reject(det *Detection) error {
	m.state = Rejected
	m.pending = nil
	slog.Warn("login client rejected the credential", slog.String("pattern", det.Pattern.Name))
	return ErrAuthenticationFailed
}

// State implements Injector.
func (m *Matcher) State() State { return m.state }

// Close wipes the held credential.
func (m *Matcher) Close() error {
	m.cred.Wipe()
	return nil
}

var (
	_ Injector = (*OneShot)(nil)
	_ Injector = (*Matcher)(nil)
)
