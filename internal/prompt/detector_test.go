package prompt

import (
	"regexp"
	"testing"
)

// ---------------------------------------------------------------------------
// Default patterns
// ---------------------------------------------------------------------------

func TestDetect_DefaultPatterns(t *testing.T) {
	tests := []struct {
		name     string
		buffer   string
		wantName string
		wantType PromptType
	}{
		{"ssh password", "root@10.0.0.1's password: ", "ssh_password", PromptTypePassword},
		{"passphrase", "Enter passphrase for key '/home/u/.ssh/id_ed25519': ", "ssh_passphrase", PromptTypePassword},
		{"keyboard interactive", "(deploy@example.com) Password: ", "keyboard_interactive", PromptTypePassword},
		{"generic password", "Password: ", "password_generic", PromptTypePassword},
		{"denied", "Permission denied (publickey,password).\r\n", "permission_denied", PromptTypeRejection},
		{"too many failures", "Received disconnect: Too many authentication failures", "too_many_failures", PromptTypeRejection},
		{"host key", "Are you sure you want to continue connecting (yes/no/[fingerprint])? ", "ssh_host_key", PromptTypeConfirmation},
	}

	d := NewDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := d.Detect(tt.buffer)
			if det == nil {
				t.Fatalf("Detect(%q) = nil", tt.buffer)
			}
			if det.Pattern.Name != tt.wantName {
				t.Errorf("pattern = %q, want %q", det.Pattern.Name, tt.wantName)
			}
			if det.Pattern.Type != tt.wantType {
				t.Errorf("type = %q, want %q", det.Pattern.Type, tt.wantType)
			}
		})
	}
}

func TestDetect_NoMatch(t *testing.T) {
	d := NewDetector()
	for _, buf := range []string{
		"",
		"Last login: Mon Oct 19 10:00:00 2026\r\n",
		"password: not at end of output\n$ ",
		"Welcome to Ubuntu\n",
	} {
		if det := d.Detect(buf); det != nil {
			t.Errorf("Detect(%q) = %q, want nil", buf, det.Pattern.Name)
		}
	}
}

func TestDetect_OnlyRecentLines(t *testing.T) {
	d := NewDetector()
	buf := "Permission denied\n"
	for i := 0; i < tailLines+2; i++ {
		buf += "motd line\n"
	}
	if det := d.Detect(buf); det != nil {
		t.Errorf("Detect matched %q outside the last %d lines", det.Pattern.Name, tailLines)
	}
}

// ---------------------------------------------------------------------------
// Custom patterns
// ---------------------------------------------------------------------------

func TestAddPattern_TakesPriority(t *testing.T) {
	d := NewDetector()
	d.AddPattern(Pattern{
		Name:  "bastion_otp",
		Regex: regexp.MustCompile(`(?i)verification code:\s*$`),
		Type:  PromptTypePassword,
	})

	det := d.Detect("Verification code: ")
	if det == nil || det.Pattern.Name != "bastion_otp" {
		t.Fatalf("Detect() = %+v, want bastion_otp", det)
	}
}

func TestAddPatternFromConfig(t *testing.T) {
	d := NewDetector()
	if err := d.AddPatternFromConfig("vault_pw", `Vault password:\s*$`, "password", true); err != nil {
		t.Fatalf("AddPatternFromConfig() error: %v", err)
	}

	det := d.Detect("Vault password: ")
	if det == nil {
		t.Fatal("expected detection")
	}
	if det.Pattern.Name != "vault_pw" {
		t.Errorf("pattern = %q, want vault_pw", det.Pattern.Name)
	}
	if !det.IsPasswordPrompt() || !det.Pattern.MaskInput {
		t.Errorf("pattern = %+v, want masked password", det.Pattern)
	}
}

func TestAddPatternFromConfig_Types(t *testing.T) {
	tests := map[string]PromptType{
		"password":     PromptTypePassword,
		"confirmation": PromptTypeConfirmation,
		"rejection":    PromptTypeRejection,
		"anything":     PromptTypeText,
		"":             PromptTypeText,
	}
	for in, want := range tests {
		d := NewDetector()
		if err := d.AddPatternFromConfig("p", `^zzz$`, in, false); err != nil {
			t.Fatal(err)
		}
		if got := d.customPatterns[0].Type; got != want {
			t.Errorf("type for %q = %q, want %q", in, got, want)
		}
	}
}

func TestAddPatternFromConfig_InvalidRegex(t *testing.T) {
	d := NewDetector()
	if err := d.AddPatternFromConfig("bad", `[unclosed`, "password", true); err == nil {
		t.Error("expected error for invalid regex")
	}
	if len(d.customPatterns) != 0 {
		t.Error("invalid pattern was added")
	}
}

func TestDetectType(t *testing.T) {
	d := NewDetector()
	buf := "Permission denied, please try again.\r\nroot@host's password: "

	if det := d.DetectType(buf, PromptTypeRejection); det == nil || !det.IsRejection() {
		t.Errorf("DetectType(rejection) = %+v", det)
	}
	if det := d.DetectType(buf, PromptTypePassword); det == nil || !det.IsPasswordPrompt() {
		t.Errorf("DetectType(password) = %+v", det)
	}
	if det := d.DetectType(buf, PromptTypeConfirmation); det != nil {
		t.Errorf("DetectType(confirmation) = %+v, want nil", det)
	}
}
