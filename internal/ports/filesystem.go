package ports

import (
	"io"
	"io/fs"
)

// FileHandle is an open file as seen by the record store and the recorder.
type FileHandle interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Name returns the path the file was opened with.
	Name() string

	// Stat returns file info for the open file.
	Stat() (fs.FileInfo, error)

	// Chmod changes the permission bits of the open file.
	Chmod(mode fs.FileMode) error

	// Sync commits the file contents to stable storage.
	Sync() error
}

// FileSystem abstracts file operations for testing.
type FileSystem interface {
	// Open opens the named file for reading.
	Open(name string) (FileHandle, error)

	// OpenFile opens the named file with the given flags and permissions.
	OpenFile(name string, flag int, perm fs.FileMode) (FileHandle, error)

	// CreateTemp creates a new scratch file in dir. The caller removes it.
	CreateTemp(dir, pattern string) (FileHandle, error)

	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// WriteFile writes data to the named file, creating it if necessary.
	WriteFile(name string, data []byte, perm fs.FileMode) error

	// Stat returns file info for the named file.
	Stat(name string) (fs.FileInfo, error)

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm fs.FileMode) error

	// Remove removes the named file or empty directory.
	Remove(name string) error

	// Rename renames (moves) oldpath to newpath.
	Rename(oldpath, newpath string) error

	// UserHomeDir returns the current user's home directory.
	UserHomeDir() (string, error)

	// Getenv retrieves the value of the environment variable named by the key.
	Getenv(key string) string
}
