package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/acolita/sshx/internal/logging"
	"github.com/acolita/sshx/internal/process"
	"github.com/acolita/sshx/internal/prompt"
	"github.com/acolita/sshx/internal/pty"
	"github.com/acolita/sshx/internal/security"
	"golang.org/x/sys/unix"
)

// readSize is the most output consumed per readiness notification.
const readSize = 4096

// tailSize bounds the client output kept for failure diagnosis.
const tailSize = 2048

// loop is the single-threaded event loop of one session. Every pass reaps
// first, then waits for the master, the signal pipe and the relay input.
type loop struct {
	ctx  context.Context
	sc   *SessionContext
	pipe *selfPipe

	detector *prompt.Detector
	outbound bytes.Buffer
	buf      []byte
	tail     []byte

	masterOpen bool
	draining   bool
	authFailed bool

	relayFd   int
	maskRelay bool
}

func newLoop(ctx context.Context, sc *SessionContext, pipe *selfPipe) *loop {
	d := sc.opts.Detector
	if d == nil {
		d = prompt.NewDetector()
	}
	return &loop{
		ctx:        ctx,
		sc:         sc,
		pipe:       pipe,
		detector:   d,
		buf:        make([]byte, readSize),
		masterOpen: true,
		relayFd:    -1,
	}
}

// enableRelay forwards f to the client once the credential is sent. Input
// typed earlier stays queued in f.
func (l *loop) enableRelay(f *os.File) (func(), error) {
	restore, err := rawMode(f)
	if err != nil {
		return nil, err
	}
	l.relayFd = int(f.Fd())
	return restore, nil
}

func (l *loop) run() (Outcome, error) {
	pid := l.sc.Child.Pid
	for {
		blocking := l.draining || !l.masterOpen
		status, done, err := process.Reap(pid, blocking)
		if err != nil {
			return Outcome{}, err
		}
		if done {
			if l.live() {
				l.drainOutput()
			}
			l.wipeOutbound()
			return Outcome{Status: status, AuthFailed: l.authFailed, Tail: string(l.tail)}, nil
		}
		if blocking {
			continue
		}

		if l.ctx.Err() != nil {
			l.sc.Logger.Info("session cancelled")
			l.hangup()
			continue
		}

		fds := []unix.PollFd{
			{Fd: int32(l.sc.Terminal.Fd()), Events: unix.POLLIN},
			{Fd: int32(l.pipe.r), Events: unix.POLLIN},
		}
		if l.outbound.Len() > 0 {
			fds[0].Events |= unix.POLLOUT
		}
		relaying := l.relayFd >= 0 && l.sc.Injector.State() == prompt.Injected
		if relaying {
			fds = append(fds, unix.PollFd{Fd: int32(l.relayFd), Events: unix.POLLIN})
		}

		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return Outcome{}, fmt.Errorf("poll: %w", err)
		}

		if fds[1].Revents != 0 {
			l.pipe.drain()
		}
		master := fds[0].Revents
		if master&unix.POLLNVAL != 0 {
			return Outcome{}, fmt.Errorf("poll: master descriptor invalid")
		}
		if master&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			l.readMaster(master&unix.POLLIN == 0)
		}
		if l.live() && l.outbound.Len() > 0 {
			l.flush()
		}
		if relaying && l.live() && fds[2].Revents != 0 {
			l.readRelay()
		}
	}
}

// live reports whether the master may still be used.
func (l *loop) live() bool {
	return l.masterOpen && !l.draining
}

// readMaster consumes one chunk of client output. hangupOnly is set when
// poll reported a hangup without data.
func (l *loop) readMaster(hangupOnly bool) {
	n, err := l.sc.Terminal.Read(l.buf)
	if n > 0 {
		l.handleOutput(l.buf[:n])
	}
	switch {
	case err == nil:
	case errors.Is(err, pty.ErrWouldBlock):
		if hangupOnly {
			l.masterOpen = false
		}
	case errors.Is(err, io.EOF):
		l.sc.Logger.Debug("client closed its terminal")
		l.masterOpen = false
	default:
		l.sc.Logger.Warn("read from client failed", slog.String("error", err.Error()))
		l.hangup()
	}
}

// drainOutput consumes what the client wrote before it exited. The output
// is observed but never reaches the injector.
func (l *loop) drainOutput() {
	for {
		n, err := l.sc.Terminal.Read(l.buf)
		if n > 0 {
			l.observe(l.buf[:n])
		}
		if n == 0 || err != nil {
			return
		}
	}
}

func (l *loop) keepTail(chunk []byte) {
	l.tail = append(l.tail, chunk...)
	if over := len(l.tail) - tailSize; over > 0 {
		l.tail = append(l.tail[:0], l.tail[over:]...)
	}
}

// observe handles the side effects of client output other than injection.
func (l *loop) observe(chunk []byte) {
	l.sc.Logger.Debug("client output", slog.String("data", logging.Preview(chunk, 64)))
	if rec := l.sc.Recorder; rec != nil {
		_ = rec.RecordOutput(chunk)
	}
	if l.sc.opts.Echo != nil {
		_, _ = l.sc.opts.Echo.Write(chunk)
	}
	l.keepTail(chunk)
}

func (l *loop) handleOutput(chunk []byte) {
	l.observe(chunk)

	inj := l.sc.Injector
	before := inj.State()
	queued := l.outbound.Len()
	err := inj.Feed(chunk, &l.outbound)
	if before == prompt.AwaitingFirstPrompt && inj.State() == prompt.Injected {
		l.sc.Logger.Info("credential sent")
		if rec := l.sc.Recorder; rec != nil {
			_ = rec.RecordMaskedInput(l.outbound.Len() - queued)
		}
	}
	switch {
	case errors.Is(err, prompt.ErrAuthenticationFailed):
		l.authFailed = true
		l.sc.Logger.Warn("authentication failed", slog.String("state", inj.State().String()))
		l.hangup()
		return
	case err != nil:
		l.sc.Logger.Error("credential injection failed", slog.String("error", err.Error()))
		l.hangup()
		return
	}

	if l.relayFd >= 0 {
		det := l.detector.Detect(string(chunk))
		l.maskRelay = det != nil && det.Pattern.MaskInput
	}
}

// flush writes as much of the outbound queue as the master accepts.
func (l *loop) flush() {
	n, err := l.sc.Terminal.Write(l.outbound.Bytes())
	security.WipeBytes(l.outbound.Next(n))
	if err != nil && !errors.Is(err, pty.ErrWouldBlock) {
		l.sc.Logger.Warn("write to client failed", slog.String("error", err.Error()))
		l.hangup()
	}
}

func (l *loop) readRelay() {
	n, err := unix.Read(l.relayFd, l.buf)
	if n > 0 {
		data := l.buf[:n]
		if rec := l.sc.Recorder; rec != nil {
			if l.maskRelay {
				_ = rec.RecordMaskedInput(n)
			} else {
				_ = rec.RecordInput(data)
			}
		}
		l.outbound.Write(data)
		security.WipeBytes(data)
		return
	}
	if err != nil && (errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN)) {
		return
	}
	l.sc.Logger.Debug("input relay stopped")
	l.relayFd = -1
}

// hangup closes the terminal, which sends SIGHUP to the client as session
// leader, and switches the loop to waiting for its exit.
func (l *loop) hangup() {
	if err := l.sc.Terminal.Close(); err != nil {
		l.sc.Logger.Debug("close terminal", slog.String("error", err.Error()))
	}
	l.draining = true
	l.wipeOutbound()
}

func (l *loop) wipeOutbound() {
	security.WipeBytes(l.outbound.Bytes())
	l.outbound.Reset()
}
