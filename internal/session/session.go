// Package session drives one login client behind a pseudo-terminal: it
// injects the credential, relays resizes and waits for the client to end.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/acolita/sshx/internal/process"
	"github.com/acolita/sshx/internal/prompt"
	"github.com/acolita/sshx/internal/pty"
	"github.com/acolita/sshx/internal/recording"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Recorder receives a transcript of the session.
type Recorder interface {
	RecordOutput(data []byte) error
	RecordInput(data []byte) error
	RecordMaskedInput(length int) error
	RecordResize(width, height int) error
	Close() error
}

// Options configures Run.
type Options struct {
	// Client is the login client program.
	Client string
	// Mode selects the injection protocol.
	Mode prompt.Mode
	// Detector supplies patterns for prompt.ModeMatch. Nil uses the defaults.
	Detector *prompt.Detector
	// Controlling is the operator's terminal. Nil opens /dev/tty.
	Controlling *os.File
	// Echo receives the client's output. Nil discards it.
	Echo io.Writer
	// Relay is copied to the client after injection. Nil disables it.
	Relay *os.File
	// RecordDir, when set, writes an asciicast transcript there.
	RecordDir string
	// Recorder overrides RecordDir with a ready recorder.
	Recorder Recorder
}

// SessionContext is everything one session owns.
type SessionContext struct {
	Descriptor Descriptor
	Terminal   *pty.Terminal
	Child      *process.Child
	Injector   prompt.Injector
	Recorder   Recorder
	Logger     *slog.Logger

	opts Options
}

// Outcome is how a session ended.
type Outcome struct {
	Status      process.Status
	AuthFailed  bool
	SpawnFailed bool
	Tail        string // last output of the client, at most tailSize bytes
}

// ExitCode maps the outcome to a process exit code: the child's code,
// 128+signo for a signal death, 127 when the client never started, and 1 for
// a rejected credential whose client still exited 0.
func (o Outcome) ExitCode() int {
	if o.SpawnFailed {
		return process.SpawnFailureStatus
	}
	code := o.Status.ExitCode()
	if o.AuthFailed && code == 0 {
		return 1
	}
	return code
}

// Run spawns the login client for d and drives it until it terminates.
//
// A terminal failure is returned as an error wrapping
// pty.ErrTerminalUnavailable before any child exists. A client that cannot be
// started yields an Outcome with SpawnFailed and an error wrapping
// process.ErrSpawnFailure.
func Run(ctx context.Context, d Descriptor, opts Options) (Outcome, error) {
	sc := &SessionContext{
		Descriptor: d,
		Logger:     slog.Default().With(slog.String("target", d.Target())),
		opts:       opts,
	}
	defer sc.close()

	ctty := opts.Controlling
	if ctty == nil {
		f, err := pty.OpenControlling()
		if err != nil {
			return Outcome{}, err
		}
		defer f.Close()
		ctty = f
	}

	t, err := pty.Open(pty.Options{Controlling: ctty})
	if err != nil {
		return Outcome{}, err
	}
	sc.Terminal = t
	if err := t.MirrorGeometry(); err != nil {
		sc.Logger.Warn("terminal size not mirrored", slog.String("error", err.Error()))
	}

	inj, err := prompt.New(opts.Mode, d.Credential, opts.Detector)
	if err != nil {
		return Outcome{}, err
	}
	sc.Injector = inj

	sc.Recorder = opts.Recorder
	if sc.Recorder == nil && opts.RecordDir != "" {
		g := t.Geometry()
		rec, err := recording.New(opts.RecordDir, d.Target(), int(g.Cols), int(g.Rows))
		if err != nil {
			sc.Logger.Warn("recording disabled", slog.String("error", err.Error()))
		} else {
			sc.Recorder = rec
			sc.Logger.Info("recording session", slog.String("path", rec.Path()))
		}
	}

	// SIGCHLD must be routed before the child exists.
	pipe, err := newSelfPipe(unix.SIGCHLD)
	if err != nil {
		return Outcome{}, err
	}
	defer pipe.close()

	child, err := process.Spawn(process.Spec{
		Client:    opts.Client,
		User:      d.User,
		Host:      d.Host,
		Port:      d.Port,
		SlavePath: t.SlavePath(),
	})
	if err != nil {
		sc.Logger.Error("login client not started", slog.String("error", err.Error()))
		return Outcome{SpawnFailed: true}, err
	}
	sc.Child = child
	sc.Logger.Info("session started", slog.Int("pid", child.Pid))

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.WatchResize(watchCtx, func(g pty.Geometry) {
		if sc.Recorder != nil {
			_ = sc.Recorder.RecordResize(int(g.Cols), int(g.Rows))
		}
	})

	// Wake the loop on cancellation.
	stop := context.AfterFunc(ctx, pipe.wake)
	defer stop()

	l := newLoop(ctx, sc, pipe)
	if opts.Relay != nil {
		restore, err := l.enableRelay(opts.Relay)
		if err != nil {
			sc.Logger.Warn("input relay disabled", slog.String("error", err.Error()))
		} else {
			defer restore()
		}
	}

	outcome, err := l.run()
	if err != nil {
		return outcome, err
	}
	sc.Logger.Info("session ended",
		slog.String("status", outcome.Status.String()),
		slog.Bool("auth_failed", outcome.AuthFailed),
		slog.String("injector", inj.State().String()),
	)
	return outcome, nil
}

// close releases everything the session owns. Safe after partial setup.
func (sc *SessionContext) close() {
	var errs []error
	if sc.Terminal != nil {
		errs = append(errs, sc.Terminal.Close())
	}
	if sc.Injector != nil {
		errs = append(errs, sc.Injector.Close())
	}
	if sc.Recorder != nil {
		errs = append(errs, sc.Recorder.Close())
	}
	if err := errors.Join(errs...); err != nil {
		sc.Logger.Debug("session cleanup", slog.String("error", err.Error()))
	}
}

// rawMode puts f into raw mode when it is a terminal and returns the restore
// function.
func rawMode(f *os.File) (func(), error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("raw mode: %w", err)
	}
	return func() { _ = term.Restore(fd, state) }, nil
}
