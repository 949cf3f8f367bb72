// Package fakefs provides an in-memory FileSystem implementation for testing.
package fakefs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/acolita/sshx/internal/ports"
)

// Operation names accepted by Fail.
const (
	OpOpen       = "open"
	OpCreateTemp = "createtemp"
	OpWrite      = "write"
	OpSync       = "sync"
	OpChmod      = "chmod"
	OpRename     = "rename"
	OpRemove     = "remove"
	OpMkdirAll   = "mkdirall"
)

// FS is an in-memory filesystem for testing. Open handles share the file's
// contents the way descriptors share an inode: a rename does not affect them.
type FS struct {
	mu      sync.Mutex
	files   map[string]*fakeFile
	dirs    map[string]bool
	homeDir string
	env     map[string]string
	faults  map[string]error
	seq     int
}

type fakeFile struct {
	data    []byte
	mode    fs.FileMode
	modTime time.Time
}

// New creates a new in-memory filesystem.
func New() *FS {
	return &FS{
		files:   make(map[string]*fakeFile),
		dirs:    map[string]bool{"/": true},
		homeDir: "/home/test",
		env:     make(map[string]string),
		faults:  make(map[string]error),
	}
}

// Fail makes every later call of op return err. A nil err clears the fault.
func (f *FS) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.faults, op)
		return
	}
	f.faults[op] = err
}

func (f *FS) faultLocked(op, path string) error {
	if err, ok := f.faults[op]; ok {
		return &fs.PathError{Op: op, Path: path, Err: err}
	}
	return nil
}

// Open opens the named file for reading.
func (f *FS) Open(name string) (ports.FileHandle, error) {
	return f.OpenFile(name, os.O_RDONLY, 0)
}

// OpenFile opens the named file. O_CREATE, O_EXCL, O_TRUNC and O_APPEND are
// honored; creating a file requires its directory to exist.
func (f *FS) OpenFile(name string, flag int, perm fs.FileMode) (ports.FileHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	if err := f.faultLocked(OpOpen, name); err != nil {
		return nil, err
	}

	file, exists := f.files[name]
	switch {
	case exists && flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrExist}
	case !exists && flag&os.O_CREATE == 0:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	case !exists:
		if !f.dirs[filepath.Dir(name)] {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		file = &fakeFile{mode: perm, modTime: time.Now()}
		f.files[name] = file
	}

	access := flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR)
	h := &handle{
		fs:       f,
		name:     name,
		file:     file,
		readable: access != os.O_WRONLY,
		writable: access != os.O_RDONLY,
		append:   flag&os.O_APPEND != 0,
	}
	if h.writable && flag&os.O_TRUNC != 0 {
		file.data = nil
	}
	return h, nil
}

// CreateTemp creates a new file in dir whose name is pattern with the last
// "*" replaced by a sequence number.
func (f *FS) CreateTemp(dir, pattern string) (ports.FileHandle, error) {
	f.mu.Lock()
	dir = filepath.Clean(dir)
	if err := f.faultLocked(OpCreateTemp, dir); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.seq++
	seq := strconv.Itoa(f.seq)
	f.mu.Unlock()

	base := pattern + seq
	if i := strings.LastIndex(pattern, "*"); i >= 0 {
		base = pattern[:i] + seq + pattern[i+1:]
	}
	return f.OpenFile(filepath.Join(dir, base), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
}

// ReadFile reads the named file and returns its contents.
func (f *FS) ReadFile(name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	if err := f.faultLocked(OpOpen, name); err != nil {
		return nil, err
	}
	file, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), file.data...), nil
}

// WriteFile writes data to the named file, creating it and its parent
// directories if necessary.
func (f *FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	if err := f.faultLocked(OpWrite, name); err != nil {
		return err
	}
	f.mkdirAllLocked(filepath.Dir(name))
	f.files[name] = &fakeFile{
		data:    append([]byte(nil), data...),
		mode:    perm,
		modTime: time.Now(),
	}
	return nil
}

func (f *FS) mkdirAllLocked(path string) {
	path = filepath.Clean(path)
	for {
		f.dirs[path] = true
		parent := filepath.Dir(path)
		if parent == path {
			return
		}
		path = parent
	}
}

// Stat returns file info for the named file.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	if f.dirs[name] {
		return &fakeFileInfo{
			name:    filepath.Base(name),
			mode:    fs.ModeDir | 0755,
			modTime: time.Now(),
			isDir:   true,
		}, nil
	}
	file, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return file.info(name), nil
}

// MkdirAll creates a directory and all parent directories.
func (f *FS) MkdirAll(path string, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.faultLocked(OpMkdirAll, path); err != nil {
		return err
	}
	f.mkdirAllLocked(path)
	return nil
}

// Remove removes the named file or empty directory.
func (f *FS) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	if err := f.faultLocked(OpRemove, name); err != nil {
		return err
	}
	if _, ok := f.files[name]; ok {
		delete(f.files, name)
		return nil
	}
	if f.dirs[name] {
		for path := range f.files {
			if strings.HasPrefix(path, name+"/") {
				return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrInvalid}
			}
		}
		delete(f.dirs, name)
		return nil
	}
	return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
}

// Rename renames (moves) oldpath to newpath, replacing newpath.
func (f *FS) Rename(oldpath, newpath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	oldpath = filepath.Clean(oldpath)
	newpath = filepath.Clean(newpath)
	if err := f.faultLocked(OpRename, oldpath); err != nil {
		return err
	}
	file, ok := f.files[oldpath]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldpath, Err: fs.ErrNotExist}
	}
	f.files[newpath] = file
	delete(f.files, oldpath)
	return nil
}

// UserHomeDir returns the configured home directory.
func (f *FS) UserHomeDir() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.homeDir, nil
}

// Getenv retrieves the value of the environment variable.
func (f *FS) Getenv(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.env[key]
}

// --- Test helpers ---

// AddFile adds a file, creating its parent directories.
func (f *FS) AddFile(name string, data []byte, mode fs.FileMode) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	f.mkdirAllLocked(filepath.Dir(name))
	f.files[name] = &fakeFile{
		data:    append([]byte(nil), data...),
		mode:    mode,
		modTime: time.Now(),
	}
}

// SetHomeDir sets the home directory returned by UserHomeDir.
func (f *FS) SetHomeDir(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.homeDir = dir
}

// SetEnv sets an environment variable.
func (f *FS) SetEnv(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.env[key] = value
}

// Files returns a sorted list of all file paths.
func (f *FS) Files() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	paths := make([]string, 0, len(f.files))
	for path := range f.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// handle is an open file.
type handle struct {
	fs       *FS
	name     string
	file     *fakeFile
	off      int64
	readable bool
	writable bool
	append   bool
	closed   bool
}

func (h *handle) Name() string { return h.name }

func (h *handle) Read(p []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.closed {
		return 0, fs.ErrClosed
	}
	if !h.readable {
		return 0, &fs.PathError{Op: "read", Path: h.name, Err: errors.New("bad file descriptor")}
	}
	if h.off >= int64(len(h.file.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.file.data[h.off:])
	h.off += int64(n)
	return n, nil
}

func (h *handle) Write(p []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.closed {
		return 0, fs.ErrClosed
	}
	if !h.writable {
		return 0, &fs.PathError{Op: "write", Path: h.name, Err: errors.New("bad file descriptor")}
	}
	if err := h.fs.faultLocked(OpWrite, h.name); err != nil {
		return 0, err
	}
	if h.append {
		h.off = int64(len(h.file.data))
	}
	end := h.off + int64(len(p))
	if end > int64(len(h.file.data)) {
		grown := make([]byte, end)
		copy(grown, h.file.data)
		h.file.data = grown
	}
	copy(h.file.data[h.off:], p)
	h.off = end
	h.file.modTime = time.Now()
	return len(p), nil
}

func (h *handle) Seek(offset int64, whence int) (int64, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.closed {
		return 0, fs.ErrClosed
	}
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = h.off
	case io.SeekEnd:
		base = int64(len(h.file.data))
	default:
		return 0, &fs.PathError{Op: "seek", Path: h.name, Err: fs.ErrInvalid}
	}
	if base+offset < 0 {
		return 0, &fs.PathError{Op: "seek", Path: h.name, Err: fs.ErrInvalid}
	}
	h.off = base + offset
	return h.off, nil
}

func (h *handle) Stat() (fs.FileInfo, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.closed {
		return nil, fs.ErrClosed
	}
	return h.file.info(h.name), nil
}

func (h *handle) Chmod(mode fs.FileMode) error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.closed {
		return fs.ErrClosed
	}
	if err := h.fs.faultLocked(OpChmod, h.name); err != nil {
		return err
	}
	h.file.mode = h.file.mode&^fs.ModePerm | mode.Perm()
	return nil
}

func (h *handle) Sync() error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.closed {
		return fs.ErrClosed
	}
	return h.fs.faultLocked(OpSync, h.name)
}

func (h *handle) Close() error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.closed {
		return fs.ErrClosed
	}
	h.closed = true
	return nil
}

func (file *fakeFile) info(name string) *fakeFileInfo {
	return &fakeFileInfo{
		name:    filepath.Base(name),
		size:    int64(len(file.data)),
		mode:    file.mode,
		modTime: file.modTime,
	}
}

// fakeFileInfo implements fs.FileInfo.
type fakeFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
}

func (fi *fakeFileInfo) Name() string       { return fi.name }
func (fi *fakeFileInfo) Size() int64        { return fi.size }
func (fi *fakeFileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *fakeFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fakeFileInfo) IsDir() bool        { return fi.isDir }
func (fi *fakeFileInfo) Sys() any           { return nil }

var (
	_ ports.FileSystem = (*FS)(nil)
	_ ports.FileHandle = (*handle)(nil)
	_ os.FileInfo      = (*fakeFileInfo)(nil)
)
