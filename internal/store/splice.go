package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/acolita/sshx/internal/ports"
)

// ErrInvalidRange is returned when a splice offset or length falls outside the file.
var ErrInvalidRange = errors.New("invalid byte range")

// SpliceInsert writes data at offset, shifting everything after it.
func (s *Store) SpliceInsert(offset int64, data []byte) error {
	return s.splice("insert", offset, data, 0)
}

// SpliceUpdate replaces oldLen bytes at offset with data. data may be longer or
// shorter than oldLen.
func (s *Store) SpliceUpdate(offset int64, data []byte, oldLen int64) error {
	return s.splice("update", offset, data, oldLen)
}

// SpliceDelete removes length bytes starting at offset.
func (s *Store) SpliceDelete(offset, length int64) error {
	return s.splice("delete", offset, nil, length)
}

// splice rewrites the record file as prefix + data + suffix, where prefix is
// [0, offset) and suffix is [offset+skip, EOF). The new contents are built in a
// scratch file beside the original and renamed over it only once complete.
func (s *Store) splice(op string, offset int64, data []byte, skip int64) (err error) {
	src, info, err := s.openForSplice()
	if err != nil {
		return err
	}
	defer src.Close()
	size := info.Size()

	if offset < 0 || offset > size || skip < 0 || offset+skip > size {
		return fmt.Errorf("%w: %s at offset %d length %d in %d-byte file", ErrInvalidRange, op, offset, skip, size)
	}

	dir := filepath.Dir(s.path)
	scratch, err := s.fs.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create scratch file: %w", err)
	}
	scratchName := scratch.Name()
	defer func() {
		if err != nil {
			scratch.Close()
			if rmErr := s.fs.Remove(scratchName); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				slog.Warn("failed to remove scratch file",
					slog.String("path", scratchName),
					slog.String("error", rmErr.Error()),
				)
			}
		}
	}()

	if _, err = io.CopyN(scratch, src, offset); err != nil {
		return fmt.Errorf("copy prefix: %w", err)
	}
	if len(data) > 0 {
		if _, err = scratch.Write(data); err != nil {
			return fmt.Errorf("write splice data: %w", err)
		}
	}
	if _, err = src.Seek(offset+skip, io.SeekStart); err != nil {
		return fmt.Errorf("seek suffix: %w", err)
	}
	if _, err = io.Copy(scratch, src); err != nil {
		return fmt.Errorf("copy suffix: %w", err)
	}
	if err = keepAttributes(scratch, info); err != nil {
		return err
	}
	if err = scratch.Sync(); err != nil {
		return fmt.Errorf("sync scratch file: %w", err)
	}
	if err = scratch.Close(); err != nil {
		return fmt.Errorf("close scratch file: %w", err)
	}
	if err = s.fs.Rename(scratchName, s.path); err != nil {
		return fmt.Errorf("replace record file: %w", err)
	}

	slog.Debug("record file spliced",
		slog.String("op", op),
		slog.String("path", s.path),
		slog.Int64("offset", offset),
		slog.Int("new_len", len(data)),
		slog.Int64("old_len", skip),
	)
	return nil
}

// openForSplice opens the record file and returns its info. A missing file
// behaves as an empty one created with NewFileMode.
func (s *Store) openForSplice() (io.ReadSeekCloser, fs.FileInfo, error) {
	f, err := s.fs.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nopReadSeekCloser{strings.NewReader("")}, missingFile{}, nil
		}
		return nil, nil, fmt.Errorf("open record file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat record file: %w", err)
	}
	return f, info, nil
}

// NewFileMode is the permission of a record file the store creates.
const NewFileMode fs.FileMode = 0600

// keepAttributes gives the scratch file the mode of the file it replaces and,
// where the platform reports it, the owner. Changing the owner needs
// privileges; a failure there is logged and the splice goes on.
func keepAttributes(scratch ports.FileHandle, orig fs.FileInfo) error {
	if err := scratch.Chmod(orig.Mode().Perm()); err != nil {
		return fmt.Errorf("set scratch file mode: %w", err)
	}
	st, ok := orig.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	c, ok := scratch.(interface{ Chown(uid, gid int) error })
	if !ok {
		return nil
	}
	if err := c.Chown(int(st.Uid), int(st.Gid)); err != nil {
		slog.Debug("record file owner not preserved", slog.String("error", err.Error()))
	}
	return nil
}

// missingFile is the info of a record file that does not exist yet.
type missingFile struct{}

func (missingFile) Name() string       { return "" }
func (missingFile) Size() int64        { return 0 }
func (missingFile) Mode() fs.FileMode  { return NewFileMode }
func (missingFile) ModTime() time.Time { return time.Time{} }
func (missingFile) IsDir() bool        { return false }
func (missingFile) Sys() any           { return nil }

type nopReadSeekCloser struct {
	io.ReadSeeker
}

func (nopReadSeekCloser) Close() error { return nil }
