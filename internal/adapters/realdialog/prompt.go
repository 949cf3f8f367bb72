// Package realdialog asks the operator for credentials with a huh form.
package realdialog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/acolita/sshx/internal/ports"
	"github.com/charmbracelet/huh"
)

// ErrCancelled is returned when the operator aborts the form.
var ErrCancelled = errors.New("credential prompt cancelled")

// Prompter implements ports.CredentialPrompter on the terminal.
type Prompter struct {
	in         io.Reader
	out        io.Writer
	accessible bool
	offerSave  bool
}

// Option configures a Prompter.
type Option func(*Prompter)

// WithIO sets the streams the form reads from and draws to.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(p *Prompter) {
		p.in = in
		p.out = out
	}
}

// WithAccessible switches to huh's line-based accessible mode.
func WithAccessible(accessible bool) Option {
	return func(p *Prompter) {
		p.accessible = accessible
	}
}

// WithSaveOffer adds a confirmation asking whether to store the credential.
func WithSaveOffer(offer bool) Option {
	return func(p *Prompter) {
		p.offerSave = offer
	}
}

// New returns a Prompter on stdin/stderr. Accessible mode is chosen for dumb
// terminals.
func New(opts ...Option) *Prompter {
	p := &Prompter{
		in:         os.Stdin,
		out:        os.Stderr,
		accessible: os.Getenv("TERM") == "dumb",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Title returns the form title for req.
func Title(req ports.CredentialRequest) string {
	target := req.User + "@" + req.Host
	if req.Port != 0 && req.Port != 22 {
		target += ":" + strconv.Itoa(req.Port)
	}
	if req.Name != "" && req.Name != req.Host {
		return fmt.Sprintf("Password for %s (%s)", target, req.Name)
	}
	return "Password for " + target
}

// PromptCredential implements ports.CredentialPrompter.
func (p *Prompter) PromptCredential(req ports.CredentialRequest) (ports.CredentialResponse, error) {
	var (
		secret string
		save   = true
	)

	fields := []huh.Field{
		huh.NewInput().
			Title(Title(req)).
			EchoMode(huh.EchoModePassword).
			Value(&secret),
	}
	if p.offerSave {
		fields = append(fields,
			huh.NewConfirm().
				Title("Save this credential to the record file?").
				Value(&save),
		)
	}

	form := huh.NewForm(huh.NewGroup(fields...)).
		WithInput(p.in).
		WithOutput(p.out).
		WithAccessible(p.accessible)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ports.CredentialResponse{}, ErrCancelled
		}
		return ports.CredentialResponse{}, fmt.Errorf("credential form: %w", err)
	}

	return ports.CredentialResponse{
		Secret: []byte(secret),
		Save:   p.offerSave && save,
	}, nil
}

var _ ports.CredentialPrompter = (*Prompter)(nil)
