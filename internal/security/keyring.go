package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used for keyring entries.
const KeyringService = "sshx"

// ErrKeyringUnavailable is returned when the system keyring cannot be used.
var ErrKeyringUnavailable = errors.New("keyring not available")

const (
	checkKey    = "__sshx_check__"
	loginKeyFmt = "login:%s@%s:%d"
)

// KeyringStore keeps login credentials in the OS keyring (macOS Keychain,
// Linux Secret Service, Windows Credential Manager).
type KeyringStore struct {
	enabled bool
	mu      sync.RWMutex
}

// NewKeyringStore checks the system keyring. If it cannot be written the
// store is returned disabled.
func NewKeyringStore() *KeyringStore {
	ks := &KeyringStore{enabled: true}

	if err := keyring.Set(KeyringService, checkKey, "check"); err != nil {
		slog.Debug("keyring not available",
			slog.String("error", err.Error()),
		)
		ks.enabled = false
		return ks
	}
	_ = keyring.Delete(KeyringService, checkKey)

	slog.Debug("keyring storage enabled")
	return ks
}

// IsEnabled reports whether the keyring is used.
func (ks *KeyringStore) IsEnabled() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.enabled
}

// SetEnabled turns keyring usage on or off.
func (ks *KeyringStore) SetEnabled(enabled bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.enabled = enabled
}

func loginKey(user, host string, port int) string {
	return fmt.Sprintf(loginKeyFmt, user, host, port)
}

// StoreCredential saves the login credential for user@host:port.
func (ks *KeyringStore) StoreCredential(user, host string, port int, credential []byte) error {
	if !ks.IsEnabled() {
		return ErrKeyringUnavailable
	}

	encoded := base64.StdEncoding.EncodeToString(credential)
	if err := keyring.Set(KeyringService, loginKey(user, host, port), encoded); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	slog.Debug("stored credential in keyring",
		slog.String("user", user),
		slog.String("host", host),
		slog.Int("port", port),
	)
	return nil
}

// GetCredential returns the stored credential for user@host:port, or nil
// when there is none.
func (ks *KeyringStore) GetCredential(user, host string, port int) ([]byte, error) {
	if !ks.IsEnabled() {
		return nil, ErrKeyringUnavailable
	}

	encoded, err := keyring.Get(KeyringService, loginKey(user, host, port))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	credential, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode credential: %w", err)
	}
	return credential, nil
}

// DeleteCredential removes the credential for user@host:port. A missing
// entry is not an error.
func (ks *KeyringStore) DeleteCredential(user, host string, port int) error {
	if !ks.IsEnabled() {
		return ErrKeyringUnavailable
	}

	if err := keyring.Delete(KeyringService, loginKey(user, host, port)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
