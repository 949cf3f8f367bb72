// Package store persists connection records in a flat tab-separated file.
//
// Records are variable-length lines, so every mutation is a splice: the bytes
// before and after the changed range are copied into a scratch file which then
// replaces the original. The file is never edited through the open handle.
// There is no locking; one store operation per process is assumed.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"strings"

	"github.com/acolita/sshx/internal/adapters/realfs"
	"github.com/acolita/sshx/internal/ports"
	"github.com/acolita/sshx/internal/record"
)

// DefaultPath is the record file used when none is configured.
const DefaultPath = "./ssh.txt"

// ErrRecordNotFound is returned when an index lookup misses.
var ErrRecordNotFound = errors.New("record not found")

// Store owns the record file.
type Store struct {
	path string
	fs   ports.FileSystem
}

// Option configures a Store.
type Option func(*Store)

// WithFileSystem sets the filesystem used by the Store.
func WithFileSystem(fs ports.FileSystem) Option {
	return func(s *Store) {
		s.fs = fs
	}
}

// New creates a store for the record file at path.
func New(path string, opts ...Option) *Store {
	if path == "" {
		path = DefaultPath
	}
	s := &Store{
		path: path,
		fs:   realfs.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the record file path.
func (s *Store) Path() string {
	return s.path
}

// Line is one raw line of the record file with its 1-based display index.
type Line struct {
	Index int
	Raw   string
}

// UpsertResult reports what UpsertByHostPort did.
type UpsertResult int

const (
	Unchanged UpsertResult = iota
	Updated
	Appended
)

func (r UpsertResult) String() string {
	switch r {
	case Updated:
		return "updated"
	case Appended:
		return "appended"
	default:
		return "unchanged"
	}
}

// scannedLine is a raw line plus its byte offset in the file.
type scannedLine struct {
	index  int
	offset int64
	raw    string // without the trailing newline
	size   int64  // bytes including the newline, if any
}

// scan streams the record file line by line. A missing file yields nothing.
func (s *Store) scan(yield func(scannedLine) bool) error {
	f, err := s.fs.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open record file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var offset int64
	for index := 1; ; index++ {
		text, err := r.ReadString('\n')
		if len(text) > 0 {
			line := scannedLine{
				index:  index,
				offset: offset,
				raw:    strings.TrimRight(text, "\r\n"),
				size:   int64(len(text)),
			}
			offset += line.size
			if !yield(line) {
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read record file: %w", err)
		}
	}
}

// FindByIndex returns the i-th record (1-based).
func (s *Store) FindByIndex(i int) (record.Record, error) {
	if i < 1 {
		return record.Record{}, fmt.Errorf("%w: index %d", ErrRecordNotFound, i)
	}

	var (
		found   bool
		rec     record.Record
		scanErr error
	)
	err := s.scan(func(l scannedLine) bool {
		if l.index != i {
			return true
		}
		found = true
		rec, scanErr = record.Parse(l.raw)
		return false
	})
	if err != nil {
		return record.Record{}, err
	}
	if !found {
		return record.Record{}, fmt.Errorf("%w: index %d", ErrRecordNotFound, i)
	}
	if scanErr != nil {
		return record.Record{}, fmt.Errorf("line %d: %w", i, scanErr)
	}
	return rec, nil
}

// ListAll returns the raw lines with their 1-based indices. Each range over the
// sequence re-reads the file from the start.
func (s *Store) ListAll() iter.Seq2[Line, error] {
	return func(yield func(Line, error) bool) {
		stopped := false
		err := s.scan(func(l scannedLine) bool {
			if !yield(Line{Index: l.index, Raw: l.raw}, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(Line{}, err)
		}
	}
}

// Append adds r as a new last line.
func (s *Store) Append(r record.Record) error {
	r = r.WithDefaults()
	if err := r.Validate(); err != nil {
		return err
	}

	var (
		size        int64
		lastNewline = true
	)
	if err := s.scan(func(l scannedLine) bool {
		size = l.offset + l.size
		lastNewline = l.size > int64(len(l.raw))
		return true
	}); err != nil {
		return err
	}

	line := record.Format(r)
	if !lastNewline {
		line = "\n" + line
	}
	if err := s.SpliceInsert(size, []byte(line)); err != nil {
		return err
	}

	slog.Info("record appended",
		slog.String("name", r.Name),
		slog.String("host", r.Host),
		slog.Int("port", r.Port),
	)
	return nil
}

// UpsertByHostPort updates the record whose host and port equal r's, or appends
// r when there is none. On update only the name and credential are changed, and
// only when r carries a non-empty value that differs from the stored one.
func (s *Store) UpsertByHostPort(r record.Record) (UpsertResult, error) {
	r.User = orDefault(r.User, record.DefaultUser)
	if r.Port == 0 {
		r.Port = record.DefaultPort
	}
	if err := r.Validate(); err != nil {
		return Unchanged, err
	}

	var (
		match    *scannedLine
		existing record.Record
	)
	err := s.scan(func(l scannedLine) bool {
		parsed, err := record.Parse(l.raw)
		if err != nil {
			slog.Warn("skipping malformed record line",
				slog.Int("index", l.index),
				slog.String("error", err.Error()),
			)
			return true
		}
		if parsed.Host == r.Host && parsed.Port == r.Port {
			m := l
			match = &m
			existing = parsed
			return false
		}
		return true
	})
	if err != nil {
		return Unchanged, err
	}

	if match == nil {
		if err := s.Append(r); err != nil {
			return Unchanged, err
		}
		return Appended, nil
	}

	offsets, err := record.LineOffsets(match.raw)
	if err != nil {
		return Unchanged, err
	}

	result := Unchanged
	// The credential sits after the name, so it is spliced first and the
	// name offset stays valid.
	if r.Credential != "" && r.Credential != existing.Credential {
		at := match.offset + int64(offsets.Credential.Off)
		if err := s.SpliceUpdate(at, []byte(r.Credential), int64(offsets.Credential.Len)); err != nil {
			return Unchanged, fmt.Errorf("update credential: %w", err)
		}
		result = Updated
	}
	if r.Name != "" && r.Name != existing.Name {
		at := match.offset + int64(offsets.Name.Off)
		if err := s.SpliceUpdate(at, []byte(r.Name), int64(offsets.Name.Len)); err != nil {
			return result, fmt.Errorf("update name: %w", err)
		}
		result = Updated
	}

	slog.Info("record upserted",
		slog.String("result", result.String()),
		slog.Int("index", match.index),
		slog.String("host", r.Host),
		slog.Int("port", r.Port),
	)
	return result, nil
}

// DeleteByIndex removes the i-th line (1-based).
func (s *Store) DeleteByIndex(i int) error {
	if i < 1 {
		return fmt.Errorf("%w: index %d", ErrRecordNotFound, i)
	}

	var target *scannedLine
	if err := s.scan(func(l scannedLine) bool {
		if l.index == i {
			t := l
			target = &t
			return false
		}
		return true
	}); err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("%w: index %d", ErrRecordNotFound, i)
	}

	if err := s.SpliceDelete(target.offset, target.size); err != nil {
		return err
	}
	slog.Info("record deleted", slog.Int("index", i))
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
