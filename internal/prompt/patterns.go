// Package prompt recognises login-client prompts and injects the stored
// credential in response to them.
package prompt

import "regexp"

// PromptType indicates the kind of output a pattern recognises.
type PromptType string

const (
	PromptTypePassword     PromptType = "password"
	PromptTypeConfirmation PromptType = "confirmation"
	PromptTypeRejection    PromptType = "rejection"
	PromptTypeText         PromptType = "text"
)

// Pattern is a named prompt detection rule.
type Pattern struct {
	Name      string
	Regex     *regexp.Regexp
	Type      PromptType
	MaskInput bool
}

// DefaultPatterns returns the built-in patterns for ssh-style login clients.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:      "ssh_password",
			Regex:     regexp.MustCompile(`(?i)\S+@\S+'s password:\s*$`),
			Type:      PromptTypePassword,
			MaskInput: true,
		},
		{
			Name:      "ssh_passphrase",
			Regex:     regexp.MustCompile(`(?i)enter passphrase for( key)? '?[^']*'?:\s*$`),
			Type:      PromptTypePassword,
			MaskInput: true,
		},
		{
			Name:      "keyboard_interactive",
			Regex:     regexp.MustCompile(`(?i)\(\S+@\S+\) password:\s*$`),
			Type:      PromptTypePassword,
			MaskInput: true,
		},
		{
			Name:      "password_generic",
			Regex:     regexp.MustCompile(`(?i)password:\s*$`),
			Type:      PromptTypePassword,
			MaskInput: true,
		},
		{
			Name:  "permission_denied",
			Regex: regexp.MustCompile(`(?i)permission denied`),
			Type:  PromptTypeRejection,
		},
		{
			Name:  "too_many_failures",
			Regex: regexp.MustCompile(`(?i)too many authentication failures`),
			Type:  PromptTypeRejection,
		},
		{
			Name:  "ssh_host_key",
			Regex: regexp.MustCompile(`(?i)are you sure you want to continue connecting \(yes/no(/\[fingerprint\])?\)\?\s*$`),
			Type:  PromptTypeConfirmation,
		},
	}
}

func parsePromptType(s string) PromptType {
	switch s {
	case "password":
		return PromptTypePassword
	case "confirmation":
		return PromptTypeConfirmation
	case "rejection":
		return PromptTypeRejection
	default:
		return PromptTypeText
	}
}
