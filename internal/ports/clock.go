// Package ports defines the interfaces sshx uses to reach the operating
// system, so tests can substitute in-memory fakes.
package ports

import "time"

// Clock abstracts the wall clock for timestamps in session recordings.
type Clock interface {
	Now() time.Time
	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration
}
