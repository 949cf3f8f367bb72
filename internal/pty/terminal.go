// Package pty manages the pseudo-terminal pair a login client runs behind.
package pty

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// ControllingTerminalPath is the device opened to reach the operator's terminal.
const ControllingTerminalPath = "/dev/tty"

var (
	// ErrTerminalUnavailable is returned when no pseudo-terminal or controlling
	// terminal can be acquired.
	ErrTerminalUnavailable = errors.New("terminal unavailable")

	// ErrWouldBlock is returned by Read and Write when the master has nothing
	// to offer or cannot accept more bytes right now.
	ErrWouldBlock = errors.New("operation would block")

	// ErrClosed is returned by operations on a closed Terminal.
	ErrClosed = errors.New("terminal closed")
)

// Geometry is a terminal size in character cells.
type Geometry struct {
	Rows uint16
	Cols uint16
}

// Options configures Open.
type Options struct {
	// Controlling is the terminal whose size is mirrored onto the master.
	// Nil disables mirroring.
	Controlling *os.File

	// Rows and Cols set the initial size when nothing is mirrored.
	Rows uint16
	Cols uint16
}

// Terminal is a master/slave pseudo-terminal pair. The master is non-blocking.
type Terminal struct {
	mu        sync.Mutex
	master    *os.File
	slave     *os.File
	masterFd  int
	slavePath string
	ctty      *os.File
	geometry  Geometry
	closed    bool
}

// Open allocates a new pseudo-terminal pair.
func Open(opts Options) (*Terminal, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: allocate pseudo-terminal: %v", ErrTerminalUnavailable, err)
	}

	// Fd switches the file to blocking mode, so the flag is set afterwards.
	fd := int(master.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("%w: set master non-blocking: %v", ErrTerminalUnavailable, err)
	}

	t := &Terminal{
		master:    master,
		slave:     slave,
		masterFd:  fd,
		slavePath: slave.Name(),
		ctty:      opts.Controlling,
	}

	if opts.Rows > 0 && opts.Cols > 0 {
		if err := setWinsize(fd, &unix.Winsize{Row: opts.Rows, Col: opts.Cols}); err != nil {
			slog.Debug("initial pseudo-terminal size not applied", slog.String("error", err.Error()))
		} else {
			t.geometry = Geometry{Rows: opts.Rows, Cols: opts.Cols}
		}
	}

	slog.Debug("pseudo-terminal allocated", slog.String("slave", t.slavePath))
	return t, nil
}

// OpenControlling opens the process's controlling terminal.
func OpenControlling() (*os.File, error) {
	f, err := os.OpenFile(ControllingTerminalPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrTerminalUnavailable, ControllingTerminalPath, err)
	}
	return f, nil
}

// SlavePath returns the device path of the slave endpoint.
func (t *Terminal) SlavePath() string {
	return t.slavePath
}

// Fd returns the master descriptor for use with poll.
func (t *Terminal) Fd() int {
	return t.masterFd
}

// Geometry returns the last size applied to the master.
func (t *Terminal) Geometry() Geometry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.geometry
}

// MirrorGeometry copies the controlling terminal's size onto the master. A
// controlling terminal that does not answer size queries is skipped.
func (t *Terminal) MirrorGeometry() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.ctty == nil {
		return nil
	}

	ws, err := getWinsize(t.ctty)
	if err != nil {
		if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) {
			slog.Debug("controlling terminal has no size, mirroring skipped")
			return nil
		}
		return fmt.Errorf("read controlling terminal size: %w", err)
	}

	if err := setWinsize(t.masterFd, ws); err != nil {
		return fmt.Errorf("apply terminal size: %w", err)
	}
	t.geometry = Geometry{Rows: ws.Row, Cols: ws.Col}
	return nil
}

// setWinsize applies ws to a raw descriptor. pty.Setsize is not used on the
// master because (*os.File).Fd puts the descriptor back into blocking mode.
func setWinsize(fd int, ws *unix.Winsize) error {
	return unix.IoctlSetWinsize(fd, unix.TIOCSWINSZ, ws)
}

// getWinsize reads the size of f without touching its blocking mode.
func getWinsize(f *os.File) (*unix.Winsize, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return nil, err
	}
	var (
		ws    *unix.Winsize
		ioErr error
	)
	if err := rc.Control(func(fd uintptr) {
		ws, ioErr = unix.IoctlGetWinsize(int(fd), unix.TIOCGWINSZ)
	}); err != nil {
		return nil, err
	}
	return ws, ioErr
}

// OnResize re-mirrors the geometry after a resize notification.
func (t *Terminal) OnResize() error {
	if err := t.MirrorGeometry(); err != nil {
		return err
	}
	g := t.Geometry()
	slog.Debug("terminal resized", slog.Int("rows", int(g.Rows)), slog.Int("cols", int(g.Cols)))
	return nil
}

// WatchResize handles SIGWINCH until ctx is done: each signal runs OnResize
// and then onChange, if not nil, with the new geometry. It runs independently
// of whoever is reading the master.
func (t *Terminal) WatchResize(ctx context.Context, onChange func(Geometry)) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGWINCH)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				err := t.OnResize()
				switch {
				case errors.Is(err, ErrClosed):
				case err != nil:
					slog.Warn("failed to relay terminal resize", slog.String("error", err.Error()))
				case onChange != nil:
					onChange(t.Geometry())
				}
			}
		}
	}()
}

// Read reads whatever the master has available. It returns ErrWouldBlock when
// nothing is pending and io.EOF once the slave side has gone away.
func (t *Terminal) Read(b []byte) (int, error) {
	if t.isClosed() {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Read(t.masterFd, b)
		switch {
		case err == nil && n == 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		case errors.Is(err, unix.EIO):
			return 0, io.EOF
		default:
			return 0, fmt.Errorf("read master: %w", err)
		}
	}
}

// Write writes to the master. It may write fewer bytes than len(b); in that
// case err is ErrWouldBlock and the caller retries the rest later.
func (t *Terminal) Write(b []byte) (int, error) {
	if t.isClosed() {
		return 0, ErrClosed
	}
	written := 0
	for written < len(b) {
		n, err := unix.Write(t.masterFd, b[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return written, ErrWouldBlock
		default:
			return written, fmt.Errorf("write master: %w", err)
		}
	}
	return written, nil
}

func (t *Terminal) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close releases both endpoints. Calling it again is a no-op.
func (t *Terminal) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	if err := t.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close master: %w", err))
	}
	if t.slave != nil {
		if err := t.slave.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close slave: %w", err))
		}
	}
	return errors.Join(errs...)
}
