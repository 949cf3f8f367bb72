package ports

// CredentialRequest describes the login a credential is asked for.
type CredentialRequest struct {
	Name string
	User string
	Host string
	Port int
}

// CredentialResponse is what the operator entered.
type CredentialResponse struct {
	Secret []byte
	Save   bool // operator agreed to store the credential
}

// CredentialPrompter asks the operator for a login credential.
// Implementations may use TUI forms or test fakes.
type CredentialPrompter interface {
	PromptCredential(req CredentialRequest) (CredentialResponse, error)
}
