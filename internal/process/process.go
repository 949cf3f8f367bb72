// Package process starts the login client on a pseudo-terminal slave and reaps it.
package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultClient is the login client invoked when none is configured.
const DefaultClient = "ssh"

// SpawnFailureStatus is the exit code reported when the login client could
// not be started.
const SpawnFailureStatus = 127

// ErrSpawnFailure is returned when the child's program image cannot be replaced.
var ErrSpawnFailure = errors.New("spawn login client")

// Spec describes the child to start.
type Spec struct {
	Client    string // login client program, looked up in PATH
	User      string
	Host      string
	Port      int
	SlavePath string   // slave device that becomes the controlling terminal
	Env       []string // appended to the parent's environment
}

// Argv builds the argument vector: client user@host -p port.
func Argv(spec Spec) []string {
	client := spec.Client
	if client == "" {
		client = DefaultClient
	}
	return []string{client, spec.User + "@" + spec.Host, "-p", strconv.Itoa(spec.Port)}
}

// Child is a started login client.
type Child struct {
	Pid  int
	Argv []string
}

// Spawn starts the login client with the slave device as its standard streams
// and controlling terminal. The child runs in its own session; the master
// descriptor is close-on-exec and never reaches it.
func Spawn(spec Spec) (*Child, error) {
	if spec.SlavePath == "" {
		return nil, fmt.Errorf("%w: no slave device", ErrSpawnFailure)
	}

	slave, err := os.OpenFile(spec.SlavePath, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open slave %s: %v", ErrSpawnFailure, spec.SlavePath, err)
	}
	// The child holds its own copies once started.
	defer slave.Close()

	argv := Argv(spec)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0, // index into the child's fds: stdin
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawnFailure, argv[0], err)
	}

	slog.Debug("login client started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("client", argv[0]),
		slog.String("target", argv[1]),
		slog.String("port", argv[3]),
	)

	// Reaping is done with Wait4 by pid; the os.Process handle is released
	// so nothing else waits on it.
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()

	return &Child{Pid: pid, Argv: argv}, nil
}

// Status is the terminal state of a reaped child.
type Status struct {
	Exited   bool
	Code     int
	Signaled bool
	Signal   syscall.Signal
}

// ExitCode maps the status to a process exit code: the child's own code, or
// 128+signo when it was killed by a signal.
func (s Status) ExitCode() int {
	if s.Signaled {
		return 128 + int(s.Signal)
	}
	return s.Code
}

func (s Status) String() string {
	if s.Signaled {
		name := unix.SignalName(s.Signal)
		if name == "" {
			name = "signal " + strconv.Itoa(int(s.Signal))
		}
		return "killed by " + name
	}
	return "exited with status " + strconv.Itoa(s.Code)
}

// Reap waits for the child identified by pid. With blocking false it returns
// done=false immediately when the child is still running. Stop and continue
// notifications are not terminal and are skipped.
func Reap(pid int, blocking bool) (status Status, done bool, err error) {
	options := 0
	if !blocking {
		options = unix.WNOHANG
	}

	for {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(pid, &ws, options, nil)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return Status{}, false, fmt.Errorf("wait for pid %d: %w", pid, err)
		}
		if wpid == 0 {
			return Status{}, false, nil
		}

		switch {
		case ws.Exited():
			return Status{Exited: true, Code: ws.ExitStatus()}, true, nil
		case ws.Signaled():
			return Status{Signaled: true, Signal: syscall.Signal(ws.Signal())}, true, nil
		}
		if !blocking {
			return Status{}, false, nil
		}
	}
}
