package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/acolita/sshx/internal/process"
	"github.com/acolita/sshx/internal/prompt"
	"github.com/creack/pty"
)

// writeClient writes an executable shell script that stands in for ssh.
func writeClient(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ssh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeControlling returns the slave of a spare pseudo-terminal to act as the
// operator's terminal.
func fakeControlling(t *testing.T) *os.File {
	t.Helper()
	m, s, err := pty.Open()
	if err != nil {
		t.Skipf("no pseudo-terminal available: %v", err)
	}
	t.Cleanup(func() {
		m.Close()
		s.Close()
	})
	if err := pty.Setsize(m, &pty.Winsize{Rows: 24, Cols: 80}); err != nil {
		t.Fatal(err)
	}
	return s
}

type fakeRecorder struct {
	mu      sync.Mutex
	output  bytes.Buffer
	inputs  []string
	masked  []int
	resizes []string
	closed  bool
}

func (r *fakeRecorder) RecordOutput(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output.Write(data)
	return nil
}

func (r *fakeRecorder) RecordInput(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, string(data))
	return nil
}

func (r *fakeRecorder) RecordMaskedInput(length int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.masked = append(r.masked, length)
	return nil
}

func (r *fakeRecorder) RecordResize(width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resizes = append(r.resizes, fmt.Sprintf("%dx%d", width, height))
	return nil
}

func (r *fakeRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func descriptor(cred string) Descriptor {
	return Descriptor{
		Action:     ActionConnect,
		User:       "root",
		Host:       "10.0.0.1",
		Port:       22,
		Credential: []byte(cred),
	}
}

// runWithin runs a session and fails the test if it does not end in time.
func runWithin(t *testing.T, ctx context.Context, d Descriptor, opts Options) (Outcome, error) {
	t.Helper()
	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		o, err := Run(ctx, d, opts)
		done <- result{o, err}
	}()
	select {
	case r := <-done:
		return r.outcome, r.err
	case <-time.After(10 * time.Second):
		t.Fatal("session did not end")
		return Outcome{}, nil
	}
}

const passwordClient = `stty -echo
printf 'pw: '
read pw
[ "$pw" = secret ] && exit 0
printf 'Permission denied\npw: '
read pw
exit 3`

func TestRun_InjectsCredential(t *testing.T) {
	rec := &fakeRecorder{}
	outcome, err := runWithin(t, context.Background(), descriptor("secret"), Options{
		Client:      writeClient(t, passwordClient),
		Controlling: fakeControlling(t),
		Recorder:    rec,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.AuthFailed {
		t.Error("AuthFailed = true, want false")
	}
	if outcome.ExitCode() != 0 {
		t.Errorf("ExitCode() = %d (%s), want 0", outcome.ExitCode(), outcome.Status)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.masked) != 1 || rec.masked[0] != len("secret\n") {
		t.Errorf("masked inputs = %v, want [%d]", rec.masked, len("secret\n"))
	}
	if strings.Contains(rec.output.String(), "secret") {
		t.Error("credential leaked into the recorded output")
	}
	if !rec.closed {
		t.Error("recorder not closed")
	}
}

func TestRun_AuthenticationFailure(t *testing.T) {
	outcome, err := runWithin(t, context.Background(), descriptor("wrong"), Options{
		Client:      writeClient(t, passwordClient),
		Controlling: fakeControlling(t),
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !outcome.AuthFailed {
		t.Errorf("AuthFailed = false, want true (status %s)", outcome.Status)
	}
	if outcome.ExitCode() == 0 {
		t.Error("ExitCode() = 0 after a rejected credential")
	}
}

func TestRun_ChildExitsWithoutOutput(t *testing.T) {
	outcome, err := runWithin(t, context.Background(), descriptor("secret"), Options{
		Client:      writeClient(t, "exit 4"),
		Controlling: fakeControlling(t),
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.ExitCode() != 4 {
		t.Errorf("ExitCode() = %d, want 4", outcome.ExitCode())
	}
	if outcome.AuthFailed {
		t.Error("AuthFailed = true for a silent client")
	}
}

func TestRun_CleanExitWithoutOutput(t *testing.T) {
	outcome, err := runWithin(t, context.Background(), descriptor("secret"), Options{
		Client:      writeClient(t, "exit 0"),
		Controlling: fakeControlling(t),
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.ExitCode() != 0 || outcome.AuthFailed || outcome.SpawnFailed {
		t.Errorf("outcome = %+v, want success", outcome)
	}
}

func TestRun_KeepsOutputTail(t *testing.T) {
	outcome, err := runWithin(t, context.Background(), descriptor("secret"), Options{
		Client:      writeClient(t, `printf 'ssh: connect to host 10.0.0.1 port 22: Connection refused\r\n'; exit 255`),
		Controlling: fakeControlling(t),
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.ExitCode() != 255 {
		t.Errorf("ExitCode() = %d, want 255", outcome.ExitCode())
	}
	if !strings.Contains(outcome.Tail, "Connection refused") {
		t.Errorf("Tail = %q, want the client's last output", outcome.Tail)
	}
}

func TestKeepTail_Bounded(t *testing.T) {
	l := &loop{}
	l.keepTail(bytes.Repeat([]byte("a"), tailSize-1))
	l.keepTail([]byte("bcd"))
	if len(l.tail) != tailSize {
		t.Fatalf("len(tail) = %d, want %d", len(l.tail), tailSize)
	}
	if !bytes.HasSuffix(l.tail, []byte("abcd")) {
		t.Errorf("tail ends with %q", l.tail[len(l.tail)-8:])
	}
}

func TestRun_ChildKilledBySignal(t *testing.T) {
	outcome, err := runWithin(t, context.Background(), descriptor("secret"), Options{
		Client:      writeClient(t, "kill -9 $$"),
		Controlling: fakeControlling(t),
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !outcome.Status.Signaled || outcome.Status.Signal != syscall.SIGKILL {
		t.Errorf("Status = %s, want killed by SIGKILL", outcome.Status)
	}
	if outcome.ExitCode() != 137 {
		t.Errorf("ExitCode() = %d, want 137", outcome.ExitCode())
	}
}

func TestRun_SpawnFailure(t *testing.T) {
	outcome, err := Run(context.Background(), descriptor("secret"), Options{
		Client:      filepath.Join(t.TempDir(), "no-such-client"),
		Controlling: fakeControlling(t),
	})
	if !errors.Is(err, process.ErrSpawnFailure) {
		t.Fatalf("Run() error = %v, want ErrSpawnFailure", err)
	}
	if !outcome.SpawnFailed || outcome.ExitCode() != process.SpawnFailureStatus {
		t.Errorf("outcome = %+v, ExitCode() = %d", outcome, outcome.ExitCode())
	}
}

func TestRun_UnknownMode(t *testing.T) {
	_, err := Run(context.Background(), descriptor("secret"), Options{
		Client:      writeClient(t, "exit 0"),
		Mode:        prompt.Mode("telepathy"),
		Controlling: fakeControlling(t),
	})
	if err == nil {
		t.Fatal("Run() with unknown mode succeeded")
	}
}

func TestRun_MatchModeEchoesOutput(t *testing.T) {
	client := writeClient(t, `stty -echo
printf 'Welcome to the bastion\n'
printf "root@10.0.0.1's password: "
read pw
[ "$pw" = s3cret ] && exit 0
exit 3`)

	var echo bytes.Buffer
	outcome, err := runWithin(t, context.Background(), descriptor("s3cret"), Options{
		Client:      client,
		Mode:        prompt.ModeMatch,
		Controlling: fakeControlling(t),
		Echo:        &echo,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.ExitCode() != 0 || outcome.AuthFailed {
		t.Errorf("outcome = %+v, want clean exit", outcome)
	}
	if !strings.Contains(echo.String(), "Welcome to the bastion") {
		t.Errorf("echo = %q, want the banner", echo.String())
	}
}

func TestRun_RelaysInputAfterInjection(t *testing.T) {
	client := writeClient(t, `stty -echo
printf "root@10.0.0.1's password: "
read pw
[ "$pw" = secret ] || exit 3
printf 'cmd> '
read c
[ "$c" = hello ] && exit 0
exit 5`)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	// Typed before the prompt; must not reach the client ahead of the credential.
	if _, err := w.WriteString("hello\n"); err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	rec := &fakeRecorder{}
	outcome, err := runWithin(t, context.Background(), descriptor("secret"), Options{
		Client:      client,
		Mode:        prompt.ModeMatch,
		Controlling: fakeControlling(t),
		Relay:       r,
		Recorder:    rec,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.ExitCode() != 0 {
		t.Errorf("ExitCode() = %d (%s), want 0", outcome.ExitCode(), outcome.Status)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.masked) == 0 || rec.masked[0] != len("secret\n") {
		t.Errorf("first masked input = %v, want the credential", rec.masked)
	}
	for _, in := range rec.inputs {
		if strings.Contains(in, "secret") {
			t.Errorf("credential recorded in clear: %q", in)
		}
	}
}

func TestRun_Cancelled(t *testing.T) {
	client := writeClient(t, `stty -echo
printf 'pw: '
read pw
sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	outcome, err := runWithin(t, ctx, descriptor("secret"), Options{
		Client:      client,
		Controlling: fakeControlling(t),
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !outcome.Status.Signaled || outcome.Status.Signal != syscall.SIGHUP {
		t.Errorf("Status = %s, want killed by SIGHUP", outcome.Status)
	}
}

func TestOutcomeExitCode(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    int
	}{
		{"clean", Outcome{Status: process.Status{Exited: true}}, 0},
		{"client failure", Outcome{Status: process.Status{Exited: true, Code: 255}}, 255},
		{"signal", Outcome{Status: process.Status{Signaled: true, Signal: syscall.SIGHUP}}, 129},
		{"auth failed, zero status", Outcome{Status: process.Status{Exited: true}, AuthFailed: true}, 1},
		{"auth failed, nonzero status", Outcome{Status: process.Status{Exited: true, Code: 255}, AuthFailed: true}, 255},
		{"auth failed, hung up", Outcome{Status: process.Status{Signaled: true, Signal: syscall.SIGHUP}, AuthFailed: true}, 129},
		{"spawn failure", Outcome{SpawnFailed: true}, 127},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.outcome.ExitCode(); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSelfPipe_WakesOnSignal(t *testing.T) {
	p, err := newSelfPipe(syscall.SIGUSR1)
	if err != nil {
		t.Fatal(err)
	}
	defer p.close()

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	buf := make([]byte, 1)
	for time.Now().Before(deadline) {
		if n, _ := syscall.Read(p.r, buf); n == 1 {
			p.drain()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("signal did not reach the pipe")
}

func TestDescriptor(t *testing.T) {
	d := descriptor("pw")
	d.Name = "db"
	if got := d.Target(); got != "root@10.0.0.1:22" {
		t.Errorf("Target() = %q", got)
	}
	r := d.Record()
	back := FromRecord(r)
	if back.Name != "db" || back.Host != d.Host || string(back.Credential) != "pw" || back.Action != ActionConnect {
		t.Errorf("FromRecord(Record()) = %+v", back)
	}
	if ActionList.String() != "list" || Action(42).String() != "action(42)" {
		t.Error("unexpected Action strings")
	}
}
