package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/acolita/sshx/internal/record"
	"github.com/acolita/sshx/internal/store"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var listHeaders = []string{"ID", "NAME", "USER", "HOST", "PORT", "CREDENTIAL"}

// list prints the records, optionally filtered by a glob on name or host.
// Credentials are never printed.
func (a *App) list(st *store.Store, match string) error {
	var rows [][]string
	for line, err := range st.ListAll() {
		if err != nil {
			return err
		}
		id := strconv.Itoa(line.Index)

		rec, err := record.Parse(line.Raw)
		if err != nil {
			slog.Warn("malformed record line", slog.Int("index", line.Index), slog.String("error", err.Error()))
			if match == "" {
				rows = append(rows, []string{id, "(malformed)", "", "", "", ""})
			}
			continue
		}
		if match != "" && !matches(match, rec) {
			continue
		}
		rows = append(rows, []string{id, rec.Name, rec.User, rec.Host, strconv.Itoa(rec.Port), maskCredential(rec.Credential)})
	}

	if a.stdoutIsTerminal() {
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			Headers(listHeaders...).
			Rows(rows...).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return lipgloss.NewStyle().Bold(true).Padding(0, 1)
				}
				return lipgloss.NewStyle().Padding(0, 1)
			})
		_, err := fmt.Fprintln(a.Stdout, t.Render())
		return err
	}
	return writeTSV(a.Stdout, rows)
}

func writeTSV(w io.Writer, rows [][]string) error {
	if _, err := fmt.Fprintln(w, strings.Join(listHeaders, "\t")); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := fmt.Fprintln(w, strings.Join(r, "\t")); err != nil {
			return err
		}
	}
	return nil
}

func matches(pattern string, rec record.Record) bool {
	for _, s := range []string{rec.Name, rec.Host} {
		if ok, _ := doublestar.Match(pattern, s); ok {
			return true
		}
	}
	return false
}

func maskCredential(c string) string {
	if c == "" {
		return "-"
	}
	return "********"
}

func (a *App) stdoutIsTerminal() bool {
	f, ok := a.Stdout.(*os.File)
	return ok && a.IsTerminal(int(f.Fd()))
}
