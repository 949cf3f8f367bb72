// Package cli is the sshx command line: it resolves flags and configuration
// into a session descriptor, runs the requested action and maps the result to
// a process exit code.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/acolita/sshx/internal/config"
	"github.com/acolita/sshx/internal/logging"
	"github.com/acolita/sshx/internal/ports"
	"github.com/acolita/sshx/internal/pty"
	"github.com/acolita/sshx/internal/session"
	"github.com/acolita/sshx/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Version information - set at build time.
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Exit codes outside the session outcome.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitTerminal = 2
)

// CredentialStore is a secondary credential source keyed by login target.
type CredentialStore interface {
	IsEnabled() bool
	GetCredential(user, host string, port int) ([]byte, error)
	StoreCredential(user, host string, port int, credential []byte) error
	DeleteCredential(user, host string, port int) error
}

// RunFunc runs a login session.
type RunFunc func(ctx context.Context, d session.Descriptor, opts session.Options) (session.Outcome, error)

// App holds the process-level collaborators of the command line. Zero fields
// are filled with the real implementations.
type App struct {
	Stdin  *os.File
	Stdout io.Writer
	Stderr io.Writer

	Prompter   ports.CredentialPrompter
	Keyring    CredentialStore
	RunSession RunFunc
	IsTerminal func(fd int) bool
}

// ExitStatus carries a non-zero session exit code through cobra.
type ExitStatus struct {
	Code int
}

func (e *ExitStatus) Error() string {
	return fmt.Sprintf("login client exited with status %d", e.Code)
}

// ExitCode maps an error returned by the command to a process exit code.
func ExitCode(err error) int {
	var status *ExitStatus
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &status):
		return status.Code
	case errors.Is(err, pty.ErrTerminalUnavailable):
		return ExitTerminal
	default:
		return ExitFailure
	}
}

func (a *App) defaults() {
	if a.Stdin == nil {
		a.Stdin = os.Stdin
	}
	if a.Stdout == nil {
		a.Stdout = os.Stdout
	}
	if a.Stderr == nil {
		a.Stderr = os.Stderr
	}
	if a.RunSession == nil {
		a.RunSession = session.Run
	}
	if a.IsTerminal == nil {
		a.IsTerminal = term.IsTerminal
	}
}

// Main runs the command line with args and returns the exit code.
func (a *App) Main(ctx context.Context, args []string) int {
	a.defaults()

	cmd := a.NewRootCommand()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)

	var status *ExitStatus
	if err != nil && !errors.As(err, &status) {
		fmt.Fprintf(a.Stderr, "sshx: %v\n", err)
	}
	return ExitCode(err)
}

// flags are the raw command line values.
type flags struct {
	address    string
	user       string
	port       int
	password   string
	name       string
	id         int
	list       bool
	remove     int
	match      string
	configPath string
	file       string
	noSave     bool
	promptMode string
	debug      bool
}

// NewRootCommand builds the sshx command.
func (a *App) NewRootCommand() *cobra.Command {
	a.defaults()
	var f flags

	cmd := &cobra.Command{
		Use:   "sshx",
		Short: "Log in over ssh with a stored credential",
		Long: `sshx starts ssh behind a pseudo-terminal, answers the password prompt
with a stored credential and hands the session back to you.

Connection records are kept in a tab-separated file (./ssh.txt by default)
and can be reused by index.`,
		Example: `  sshx -a 10.0.0.1 -u deploy -P hunter2 -n staging
  sshx -l
  sshx -i 2`,
		Version:       fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, GitCommit),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, &f)
		},
	}
	cmd.SetIn(a.Stdin)
	cmd.SetOut(a.Stdout)
	cmd.SetErr(a.Stderr)

	fl := cmd.Flags()
	fl.StringVarP(&f.address, "address", "a", "", "host to connect to")
	fl.StringVarP(&f.user, "user", "u", "root", "login user")
	fl.IntVarP(&f.port, "port", "p", 22, "port (1-65535)")
	fl.StringVarP(&f.password, "password", "P", "", "credential to inject")
	fl.StringVarP(&f.name, "name", "n", "", "record name (defaults to the host)")
	fl.IntVarP(&f.id, "id", "i", 0, "connect using the record with this index")
	fl.BoolVarP(&f.list, "list", "l", false, "list saved records")
	fl.IntVar(&f.remove, "remove", 0, "delete the record with this index")
	fl.StringVar(&f.match, "match", "", "with --list, only show records whose name or host matches this glob")
	fl.StringVar(&f.configPath, "config", "", "path to the configuration file")
	fl.StringVar(&f.file, "file", "", "path to the record file")
	fl.BoolVar(&f.noSave, "no-save", false, "do not save the connection to the record file")
	fl.StringVar(&f.promptMode, "prompt-mode", "", "injection mode: first-output or match")
	fl.BoolVar(&f.debug, "debug", false, "enable debug logging")

	cmd.MarkFlagsMutuallyExclusive("address", "id", "list", "remove")
	cmd.MarkFlagsOneRequired("address", "id", "list", "remove")
	return cmd
}

func (a *App) run(cmd *cobra.Command, f *flags) error {
	d, err := describe(cmd, f)
	if err != nil {
		return err
	}

	cfgPath := f.configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfg, err := loadConfig(cfgPath, f)
	if err != nil {
		return err
	}

	level := logging.Setup(a.Stderr, cfg.Logging.Level, cfg.Logging.Sanitize)
	slog.Debug("configuration loaded",
		slog.String("path", cfgPath),
		slog.String("store", cfg.Store.Path),
		slog.String("action", d.Action.String()),
	)

	st := store.New(cfg.Store.Path)

	switch d.Action {
	case session.ActionList:
		return a.list(st, d.Match)
	case session.ActionRemove:
		return a.remove(cfg, st, d.Index)
	}

	if w := a.watchConfig(cfgPath, f, level); w != nil {
		defer w.Close()
	}
	return a.connect(cmd.Context(), cfg, st, d)
}

// remove deletes the record at index together with its keyring entry.
func (a *App) remove(cfg *config.Config, st *store.Store, index int) error {
	rec, lookupErr := st.FindByIndex(index)
	if err := st.DeleteByIndex(index); err != nil {
		return err
	}
	fmt.Fprintf(a.Stdout, "removed record %d\n", index)

	// A malformed line has no login key.
	if lookupErr != nil {
		return nil
	}
	if ks := a.keyring(cfg); ks != nil {
		if err := ks.DeleteCredential(rec.User, rec.Host, rec.Port); err != nil {
			slog.Warn("failed to remove keyring credential",
				slog.String("host", rec.Host),
				slog.Int("port", rec.Port),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// loadConfig loads the file and applies the flag overrides.
func loadConfig(path string, f *flags) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, f)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, f *flags) {
	if f.file != "" {
		cfg.Store.Path = f.file
	}
	if f.promptMode != "" {
		cfg.Session.PromptMode = f.promptMode
	}
	if f.debug {
		cfg.Logging.Level = "debug"
	}
}

// watchConfig follows the config file during a session so the log level can
// be changed without restarting.
func (a *App) watchConfig(path string, f *flags, level *slog.LevelVar) *config.Watcher {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	w, err := config.NewWatcher(path, func(c *config.Config) {
		applyFlags(c, f)
		level.Set(logging.ParseLevel(c.Logging.Level))
		slog.Info("configuration reloaded", slog.String("level", c.Logging.Level))
	})
	if err != nil {
		slog.Warn("config hot-reload disabled", slog.String("error", err.Error()))
		return nil
	}
	return w
}
