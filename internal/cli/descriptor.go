package cli

import (
	"fmt"

	"github.com/acolita/sshx/internal/config"
	"github.com/acolita/sshx/internal/record"
	"github.com/acolita/sshx/internal/session"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
)

// describe turns the flags into a descriptor. Argument errors wrap
// config.ErrConfiguration and are reported before anything is opened.
func describe(cmd *cobra.Command, f *flags) (session.Descriptor, error) {
	fl := cmd.Flags()

	// -p is checked in every mode so an explicit bad port is never ignored.
	if err := record.ValidatePort(f.port); err != nil {
		return session.Descriptor{}, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}

	switch {
	case f.list:
		if f.match != "" && !doublestar.ValidatePattern(f.match) {
			return session.Descriptor{}, fmt.Errorf("%w: invalid --match pattern %q", config.ErrConfiguration, f.match)
		}
		return session.Descriptor{Action: session.ActionList, Match: f.match}, nil

	case fl.Changed("remove"):
		if f.remove < 1 {
			return session.Descriptor{}, fmt.Errorf("%w: --remove index must be at least 1", config.ErrConfiguration)
		}
		return session.Descriptor{Action: session.ActionRemove, Index: f.remove}, nil

	case fl.Changed("id"):
		if f.id < 1 {
			return session.Descriptor{}, fmt.Errorf("%w: --id index must be at least 1", config.ErrConfiguration)
		}
		return session.Descriptor{
			Action:     session.ActionConnectByIndex,
			Index:      f.id,
			Credential: []byte(f.password),
			NoSave:     f.noSave,
		}, nil
	}

	r := record.Record{
		Name:       f.name,
		User:       f.user,
		Host:       f.address,
		Port:       f.port,
		Credential: f.password,
	}.WithDefaults()
	if err := r.Validate(); err != nil {
		return session.Descriptor{}, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}

	d := session.FromRecord(r)
	d.NoSave = f.noSave
	return d, nil
}
