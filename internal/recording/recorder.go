// Package recording writes transcripts of login sessions in asciicast v2 format.
package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/acolita/sshx/internal/adapters/realclock"
	"github.com/acolita/sshx/internal/adapters/realfs"
	"github.com/acolita/sshx/internal/ports"
)

// Recorder records terminal I/O in asciicast v2 format.
// See: https://docs.asciinema.org/manual/asciicast/v2/
type Recorder struct {
	mu        sync.Mutex
	file      ports.FileHandle
	startTime time.Time
	closed    bool
	clock     ports.Clock
	fs        ports.FileSystem
}

// Header is the asciicast v2 header.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is an asciicast v2 event [time, type, data].
type Event struct {
	Time float64 `json:"-"`
	Type string  `json:"-"`
	Data string  `json:"-"`
}

// MarshalJSON implements custom JSON marshaling for Event.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Time, e.Type, e.Data})
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithFileSystem sets the filesystem the recording is written to.
func WithFileSystem(fs ports.FileSystem) Option {
	return func(r *Recorder) {
		r.fs = fs
	}
}

// WithClock sets the clock used for event timestamps.
func WithClock(clock ports.Clock) Option {
	return func(r *Recorder) {
		r.clock = clock
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName returns the recording file name for title started at t.
func FileName(title string, t time.Time) string {
	base := strings.Trim(unsafeName.ReplaceAllString(title, "_"), "_")
	if base == "" {
		base = "session"
	}
	return fmt.Sprintf("%s_%s.cast", base, t.Format("20060102_150405"))
}

// New creates dir if needed and starts a recording titled title (usually
// user@host:port) with the given terminal size.
func New(dir, title string, width, height int, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		clock: realclock.New(),
		fs:    realfs.New(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.fs.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	r.startTime = r.clock.Now()
	fullPath := filepath.Join(dir, FileName(title, r.startTime))

	file, err := r.fs.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}
	r.file = file

	header := Header{
		Version:   2,
		Width:     width,
		Height:    height,
		Timestamp: r.startTime.Unix(),
		Title:     title,
	}
	if term := r.fs.Getenv("TERM"); term != "" {
		header.Env = map[string]string{"TERM": term}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	if _, err := file.Write(append(headerJSON, '\n')); err != nil {
		file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return r, nil
}

// RecordOutput records output from the login client.
func (r *Recorder) RecordOutput(data []byte) error {
	return r.record("o", string(data))
}

// RecordInput records input sent to the login client.
// Use RecordMaskedInput for secrets.
func (r *Recorder) RecordInput(data []byte) error {
	return r.record("i", string(data))
}

// RecordMaskedInput records length asterisks in place of a secret.
func (r *Recorder) RecordMaskedInput(length int) error {
	return r.record("i", strings.Repeat("*", length))
}

// RecordResize records a terminal size change.
func (r *Recorder) RecordResize(width, height int) error {
	return r.record("r", fmt.Sprintf("%dx%d", width, height))
}

func (r *Recorder) record(eventType, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	event := Event{
		Time: r.clock.Since(r.startTime).Seconds(),
		Type: eventType,
		Data: data,
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.file.Write(append(eventJSON, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close closes the recording file. Safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	return r.file.Close()
}

// Path returns the path to the recording file.
func (r *Recorder) Path() string {
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}
