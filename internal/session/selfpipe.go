package session

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
)

// selfPipe turns signal deliveries into readable bytes on a descriptor so
// they can be waited for in the same poll as the master. A delivery that
// lands between a reap and the next poll leaves a byte in the pipe, so it is
// never lost.
type selfPipe struct {
	r, w    int
	sigs    chan os.Signal
	done    chan struct{}
	stopped chan struct{}

	mu     sync.Mutex
	closed bool
}

func newSelfPipe(sig ...os.Signal) (*selfPipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("create signal pipe: %w", err)
	}

	p := &selfPipe{
		r:       fds[0],
		w:       fds[1],
		sigs:    make(chan os.Signal, 8),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	signal.Notify(p.sigs, sig...)

	go func() {
		defer close(p.stopped)
		for {
			select {
			case <-p.done:
				return
			case <-p.sigs:
				p.wake()
			}
		}
	}()
	return p, nil
}

// wake makes the read end readable. A full pipe already guarantees a wakeup.
func (p *selfPipe) wake() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	_, _ = unix.Write(p.w, []byte{0})
}

// drain empties the pipe after a wakeup.
func (p *selfPipe) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.r, buf[:])
		if n > 0 {
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return
	}
}

func (p *selfPipe) close() {
	signal.Stop(p.sigs)
	close(p.done)
	<-p.stopped

	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	unix.Close(p.r)
	unix.Close(p.w)
}
