package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/acolita/sshx/internal/adapters/realdialog"
	"github.com/acolita/sshx/internal/config"
	"github.com/acolita/sshx/internal/ports"
	"github.com/acolita/sshx/internal/process"
	"github.com/acolita/sshx/internal/prompt"
	"github.com/acolita/sshx/internal/recovery"
	"github.com/acolita/sshx/internal/security"
	"github.com/acolita/sshx/internal/session"
	"github.com/acolita/sshx/internal/store"
)

// credentialSource records where the injected credential came from.
type credentialSource int

const (
	sourceNone credentialSource = iota
	sourceGiven
	sourceKeyring
	sourcePrompt
)

func (a *App) connect(ctx context.Context, cfg *config.Config, st *store.Store, d session.Descriptor) error {
	if d.Action == session.ActionConnectByIndex {
		rec, err := st.FindByIndex(d.Index)
		if err != nil {
			return err
		}
		byIndex := session.FromRecord(rec.WithDefaults())
		byIndex.Action = session.ActionConnectByIndex
		byIndex.Index = d.Index
		byIndex.NoSave = d.NoSave
		if len(d.Credential) > 0 {
			byIndex.Credential = d.Credential
		}
		d = byIndex
	}

	src, save, err := a.resolveCredential(cfg, &d)
	if err != nil {
		return err
	}
	defer security.WipeBytes(d.Credential)

	if !d.NoSave {
		a.persist(cfg, st, d, src, save)
	}

	outcome, err := a.RunSession(ctx, d, a.sessionOptions(cfg))
	if err != nil && !errors.Is(err, process.ErrSpawnFailure) {
		return err
	}
	if err != nil {
		fmt.Fprintf(a.Stderr, "sshx: %v\n", err)
	}
	if outcome.AuthFailed {
		fmt.Fprintf(a.Stderr, "sshx: authentication failed for %s\n", d.Target())
	}
	if code := outcome.ExitCode(); code != 0 {
		a.printHints(outcome, d, code)
		return &ExitStatus{Code: code}
	}
	return nil
}

// printHints explains a failed session from the client's last output, which
// the operator may not have seen.
func (a *App) printHints(outcome session.Outcome, d session.Descriptor, code int) {
	target := recovery.Target{User: d.User, Host: d.Host, Port: d.Port}
	for _, s := range recovery.NewAnalyzer().Analyze(outcome.Tail, code, target) {
		fmt.Fprintf(a.Stderr, "sshx: %s. %s\n", s.Error, s.Explanation)
		for _, c := range s.Commands {
			fmt.Fprintf(a.Stderr, "    %s\n", c)
		}
	}
}

// resolveCredential fills d.Credential when the flags and record left it
// empty: first from the keyring, then by asking on the terminal. save reports
// whether the operator asked to keep a prompted credential.
func (a *App) resolveCredential(cfg *config.Config, d *session.Descriptor) (src credentialSource, save bool, err error) {
	if len(d.Credential) > 0 {
		return sourceGiven, false, nil
	}

	if ks := a.keyring(cfg); ks != nil {
		cred, err := ks.GetCredential(d.User, d.Host, d.Port)
		if err != nil {
			slog.Warn("keyring lookup failed", slog.String("error", err.Error()))
		} else if len(cred) > 0 {
			slog.Debug("credential loaded from keyring", slog.String("target", d.Target()))
			d.Credential = cred
			return sourceKeyring, false, nil
		}
	}

	if cfg.Security.AskCredential && a.IsTerminal(int(a.Stdin.Fd())) {
		resp, err := a.prompter(!d.NoSave).PromptCredential(ports.CredentialRequest{
			Name: d.Name,
			User: d.User,
			Host: d.Host,
			Port: d.Port,
		})
		if err != nil {
			return sourceNone, false, err
		}
		d.Credential = resp.Secret
		return sourcePrompt, resp.Save, nil
	}

	slog.Warn("no credential available, an empty line will be sent", slog.String("target", d.Target()))
	return sourceNone, false, nil
}

// persist upserts the connection. Credentials from the keyring never reach
// the record file, and a prompted one is saved only when the operator asked,
// to the keyring when it is enabled.
func (a *App) persist(cfg *config.Config, st *store.Store, d session.Descriptor, src credentialSource, save bool) {
	rec := d.Record()
	upsert := d.Action == session.ActionConnect

	switch src {
	case sourceKeyring:
		rec.Credential = ""
	case sourcePrompt:
		upsert = upsert || save
		if !save {
			rec.Credential = ""
			break
		}
		if ks := a.keyring(cfg); ks != nil {
			if err := ks.StoreCredential(d.User, d.Host, d.Port, d.Credential); err != nil {
				slog.Warn("credential not saved to keyring", slog.String("error", err.Error()))
			} else {
				rec.Credential = ""
			}
		}
	}

	if !upsert {
		return
	}
	if _, err := st.UpsertByHostPort(rec); err != nil {
		slog.Warn("record not saved", slog.String("path", st.Path()), slog.String("error", err.Error()))
	}
}

func (a *App) sessionOptions(cfg *config.Config) session.Options {
	mode := prompt.Mode(cfg.Session.PromptMode)

	det := prompt.NewDetector()
	for _, p := range cfg.PromptDetection.CustomPatterns {
		if err := det.AddPatternFromConfig(p.Name, p.Regex, p.Type, p.MaskInput); err != nil {
			slog.Warn("skipping prompt pattern", slog.String("name", p.Name), slog.String("error", err.Error()))
		}
	}

	opts := session.Options{
		Client:   cfg.Session.Client,
		Mode:     mode,
		Detector: det,
	}
	if mode == prompt.ModeMatch {
		opts.Echo = a.Stdout
		if cfg.Session.RelayInput {
			opts.Relay = a.Stdin
		}
	}
	if cfg.Recording.Enabled {
		opts.RecordDir = cfg.Recording.Path
	}
	return opts
}

// keyring returns the credential store when it is configured and usable.
func (a *App) keyring(cfg *config.Config) CredentialStore {
	if !cfg.Security.UseKeyring {
		return nil
	}
	if a.Keyring == nil {
		a.Keyring = security.NewKeyringStore()
	}
	if !a.Keyring.IsEnabled() {
		return nil
	}
	return a.Keyring
}

func (a *App) prompter(offerSave bool) ports.CredentialPrompter {
	if a.Prompter != nil {
		return a.Prompter
	}
	return realdialog.New(
		realdialog.WithIO(a.Stdin, a.Stderr),
		realdialog.WithSaveOffer(offerSave),
	)
}
