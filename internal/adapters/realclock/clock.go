// Package realclock implements ports.Clock with the time package.
package realclock

import (
	"time"

	"github.com/acolita/sshx/internal/ports"
)

// Clock reads the system clock.
type Clock struct{}

// New returns a system clock.
func New() *Clock {
	return &Clock{}
}

func (c *Clock) Now() time.Time {
	return time.Now()
}

// Since uses the monotonic reading carried by t, so event offsets in a
// recording are unaffected by wall clock steps.
func (c *Clock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

var _ ports.Clock = (*Clock)(nil)
