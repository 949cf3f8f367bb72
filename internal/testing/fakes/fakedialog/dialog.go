// Package fakedialog provides a test fake for ports.CredentialPrompter.
package fakedialog

import "github.com/acolita/sshx/internal/ports"

// Prompter is a controllable fake CredentialPrompter for testing.
type Prompter struct {
	// Result is returned by PromptCredential.
	Result ports.CredentialResponse
	// Err is the error returned by PromptCredential.
	Err error
	// Calls counts PromptCredential invocations.
	Calls int
	// Received captures the last request.
	Received ports.CredentialRequest
}

// New returns a fake that answers with secret.
func New(secret string) *Prompter {
	return &Prompter{Result: ports.CredentialResponse{Secret: []byte(secret)}}
}

// PromptCredential returns the configured Result and Err.
func (p *Prompter) PromptCredential(req ports.CredentialRequest) (ports.CredentialResponse, error) {
	p.Calls++
	p.Received = req
	if p.Err != nil {
		return ports.CredentialResponse{}, p.Err
	}
	res := p.Result
	res.Secret = append([]byte(nil), p.Result.Secret...)
	return res, nil
}

var _ ports.CredentialPrompter = (*Prompter)(nil)
