package recovery

import (
	"strings"
	"testing"
)

var target = Target{User: "root", Host: "10.0.0.1", Port: 22}

func TestNewAnalyzer(t *testing.T) {
	a := NewAnalyzer()
	if a == nil {
		t.Fatal("NewAnalyzer returned nil")
	}
	if len(a.rules) == 0 {
		t.Error("Analyzer should have default rules")
	}
}

func TestAnalyzer_CleanExit(t *testing.T) {
	a := NewAnalyzer()
	if s := a.Analyze("Last login: Mon Oct 19 09:30:00 2026\r\n$ exit\r\n", 0, target); s != nil {
		t.Errorf("Analyze() on clean exit = %+v, want nil", s)
	}
}

func TestAnalyzer_Rules(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		code     int
		category string
		command  string
		risky    bool
	}{
		{
			name:     "connection refused",
			output:   "ssh: connect to host 10.0.0.1 port 22: Connection refused\r\n",
			code:     255,
			category: "network",
			command:  "nc -zv 10.0.0.1 22",
		},
		{
			name:     "timeout",
			output:   "ssh: connect to host 10.0.0.1 port 22: Connection timed out\r\n",
			code:     255,
			category: "network",
			command:  "ping -c 3 10.0.0.1",
		},
		{
			name:     "resolve",
			output:   "ssh: Could not resolve hostname db.internal: Name or service not known\r\n",
			code:     255,
			category: "network",
			command:  "getent hosts db.internal",
		},
		{
			name:     "host key changed",
			output:   "@@@@\r\n@    WARNING: REMOTE HOST IDENTIFICATION HAS CHANGED!     @\r\n",
			code:     255,
			category: "hostkey",
			command:  "ssh-keygen -R 10.0.0.1",
			risky:    true,
		},
		{
			name:     "host key verification",
			output:   "Host key verification failed.\r\n",
			code:     255,
			category: "hostkey",
			command:  "ssh-keyscan -p 22 10.0.0.1 >> ~/.ssh/known_hosts",
			risky:    true,
		},
		{
			name:     "publickey only",
			output:   "root@10.0.0.1: Permission denied (publickey).\r\n",
			code:     255,
			category: "auth",
			command:  "ssh-copy-id -p 22 root@10.0.0.1",
		},
		{
			name:     "wrong password",
			output:   "Permission denied, please try again.\r\n",
			code:     1,
			category: "auth",
			command:  "sshx -a 10.0.0.1 -p 22 -u root -P <credential>",
		},
		{
			name:     "bad option",
			output:   "command-line: line 0: Bad configuration option: foo\r\n",
			code:     255,
			category: "client",
			command:  "ssh -G localhost",
		},
	}

	a := NewAnalyzer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suggestions := a.Analyze(tt.output, tt.code, target)
			if len(suggestions) == 0 {
				t.Fatalf("Analyze(%q) returned no suggestions", tt.output)
			}
			s := suggestions[0]
			if s.Category != tt.category {
				t.Errorf("Category = %q, want %q", s.Category, tt.category)
			}
			if len(s.Commands) == 0 || s.Commands[0] != tt.command {
				t.Errorf("Commands = %q, want first %q", s.Commands, tt.command)
			}
			if s.Risky != tt.risky {
				t.Errorf("Risky = %v, want %v", s.Risky, tt.risky)
			}
		})
	}
}

func TestAnalyzer_OnePerCategory(t *testing.T) {
	a := NewAnalyzer()
	output := "root@10.0.0.1: Permission denied (publickey).\r\nPermission denied, please try again.\r\n"

	suggestions := a.Analyze(output, 255, target)
	if len(suggestions) != 1 {
		t.Fatalf("got %d suggestions, want 1: %+v", len(suggestions), suggestions)
	}
	if !strings.Contains(suggestions[0].Error, "passwords") {
		t.Errorf("Error = %q, want the publickey rule", suggestions[0].Error)
	}
}

func TestAnalyzer_SortedByConfidence(t *testing.T) {
	a := NewAnalyzer()
	output := "Host key verification failed.\r\nssh: connect to host 10.0.0.1 port 22: Connection timed out\r\n"

	suggestions := a.Analyze(output, 255, target)
	if len(suggestions) != 2 {
		t.Fatalf("got %d suggestions, want 2", len(suggestions))
	}
	for i := 1; i < len(suggestions); i++ {
		if suggestions[i].Confidence > suggestions[i-1].Confidence {
			t.Errorf("suggestions not sorted by confidence: %v > %v", suggestions[i].Confidence, suggestions[i-1].Confidence)
		}
	}
}

func TestAnalyzer_NoMatch(t *testing.T) {
	a := NewAnalyzer()
	if s := a.Analyze("something odd happened\r\n", 3, target); len(s) != 0 {
		t.Errorf("Analyze() = %+v, want none", s)
	}
}

func TestKnownHostsName(t *testing.T) {
	if got := knownHostsName(Target{Host: "h", Port: 22}); got != "h" {
		t.Errorf("knownHostsName(22) = %q", got)
	}
	if got := knownHostsName(Target{Host: "h", Port: 2222}); got != "'[h]:2222'" {
		t.Errorf("knownHostsName(2222) = %q", got)
	}
}
