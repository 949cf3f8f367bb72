// Package security holds credential hygiene helpers and the OS keyring
// fallback for login credentials.
package security

import (
	"crypto/rand"
	"errors"
	"io"
)

// ErrWiped is returned when a wiped secret is used.
var ErrWiped = errors.New("secret already wiped")

// WipeBytes overwrites data with random bytes and then zeros.
func WipeBytes(data []byte) {
	if len(data) == 0 {
		return
	}

	rand.Read(data)
	clear(data)
}

// SecureBytes is a private copy of a secret that can be wiped.
type SecureBytes struct {
	data  []byte
	wiped bool
}

// NewSecureBytes copies data into a new SecureBytes.
func NewSecureBytes(data []byte) *SecureBytes {
	d := make([]byte, len(data))
	copy(d, data)
	return &SecureBytes{data: d}
}

// Len returns the length of the secret.
func (sb *SecureBytes) Len() int {
	return len(sb.data)
}

// Wiped reports whether Wipe has been called.
func (sb *SecureBytes) Wiped() bool {
	return sb.wiped
}

// WriteLine writes the secret followed by a newline in a single Write call.
// The temporary line buffer is wiped before returning.
func (sb *SecureBytes) WriteLine(w io.Writer) error {
	if sb.wiped {
		return ErrWiped
	}
	line := make([]byte, len(sb.data)+1)
	copy(line, sb.data)
	line[len(line)-1] = '\n'
	defer WipeBytes(line)

	n, err := w.Write(line)
	if err != nil {
		return err
	}
	if n != len(line) {
		return io.ErrShortWrite
	}
	return nil
}

// Wipe clears the secret. Safe to call more than once.
func (sb *SecureBytes) Wipe() {
	WipeBytes(sb.data)
	sb.data = nil
	sb.wiped = true
}
