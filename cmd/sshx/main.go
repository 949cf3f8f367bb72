// sshx logs in over ssh with a stored credential.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/acolita/sshx/internal/cli"
)

func main() {
	// Interrupts end the session by hanging up the login client.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := (&cli.App{}).Main(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
