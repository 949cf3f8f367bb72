package realdialog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/acolita/sshx/internal/ports"
)

func TestTitle(t *testing.T) {
	tests := []struct {
		req  ports.CredentialRequest
		want string
	}{
		{ports.CredentialRequest{User: "root", Host: "10.0.0.1", Port: 22}, "Password for root@10.0.0.1"},
		{ports.CredentialRequest{User: "root", Host: "10.0.0.1"}, "Password for root@10.0.0.1"},
		{ports.CredentialRequest{User: "ops", Host: "db", Port: 2222}, "Password for ops@db:2222"},
		{ports.CredentialRequest{Name: "prod", User: "ops", Host: "db", Port: 22}, "Password for ops@db (prod)"},
		{ports.CredentialRequest{Name: "db", User: "ops", Host: "db", Port: 22}, "Password for ops@db"},
	}
	for _, tt := range tests {
		if got := Title(tt.req); got != tt.want {
			t.Errorf("Title(%+v) = %q, want %q", tt.req, got, tt.want)
		}
	}
}

func TestNew_Options(t *testing.T) {
	in := strings.NewReader("")
	var out bytes.Buffer

	p := New(WithIO(in, &out), WithAccessible(true), WithSaveOffer(true))
	if p.in != in || p.out != &out {
		t.Error("WithIO not applied")
	}
	if !p.accessible || !p.offerSave {
		t.Errorf("options not applied: %+v", p)
	}
}

func TestNew_DumbTerminalIsAccessible(t *testing.T) {
	t.Setenv("TERM", "dumb")
	if !New().accessible {
		t.Error("TERM=dumb should select accessible mode")
	}
	t.Setenv("TERM", "xterm")
	if New().accessible {
		t.Error("TERM=xterm should not select accessible mode")
	}
}
