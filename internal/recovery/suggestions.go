// Package recovery suggests fixes for login sessions that ended in failure,
// based on the last output of the login client.
package recovery

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Suggestion is a recovery hint for one recognised failure.
type Suggestion struct {
	Error       string   // what was detected
	Category    string   // network, hostkey, auth, client, config
	Commands    []string // commands the operator may run
	Explanation string
	Confidence  float64
	Risky       bool // the command discards state; review before running
}

// Analyzer matches client output against failure rules.
type Analyzer struct {
	rules []recoveryRule
}

type recoveryRule struct {
	name     string
	pattern  *regexp.Regexp
	category string
	suggest  func(matches []string, target Target) *Suggestion
}

// Target identifies the endpoint the failed session addressed.
type Target struct {
	User string
	Host string
	Port int
}

// NewAnalyzer creates an analyzer with the default rules.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		rules: defaultRules(),
	}
}

// Analyze returns suggestions for output produced by a session that ended
// with exitCode, most confident first. A clean exit yields nothing.
func (a *Analyzer) Analyze(output string, exitCode int, target Target) []*Suggestion {
	if exitCode == 0 && !containsErrorIndicators(output) {
		return nil
	}

	var suggestions []*Suggestion
	seen := make(map[string]bool)
	for _, rule := range a.rules {
		if seen[rule.category] {
			continue
		}
		if matches := rule.pattern.FindStringSubmatch(output); matches != nil {
			if s := rule.suggest(matches, target); s != nil {
				suggestions = append(suggestions, s)
				seen[rule.category] = true
			}
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	return suggestions
}

func containsErrorIndicators(output string) bool {
	lowered := strings.ToLower(output)
	indicators := []string{
		"ssh:", "failed", "refused", "denied", "timed out",
		"could not", "no route", "unreachable", "too many",
	}
	for _, ind := range indicators {
		if strings.Contains(lowered, ind) {
			return true
		}
	}
	return false
}

func defaultRules() []recoveryRule {
	return []recoveryRule{
		// Changed host key
		{
			name:     "host_key_changed",
			pattern:  regexp.MustCompile(`(?i)REMOTE HOST IDENTIFICATION HAS CHANGED`),
			category: "hostkey",
			suggest: func(_ []string, t Target) *Suggestion {
				return &Suggestion{
					Error:       "Host key changed",
					Category:    "hostkey",
					Commands:    []string{"ssh-keygen -R " + knownHostsName(t)},
					Explanation: "The server presented a different host key than the one in known_hosts. Remove the old entry only if the change is expected.",
					Confidence:  0.95,
					Risky:       true,
				}
			},
		},

		// Unknown host key with strict checking
		{
			name:     "host_key_verification",
			pattern:  regexp.MustCompile(`(?i)host key verification failed`),
			category: "hostkey",
			suggest: func(_ []string, t Target) *Suggestion {
				return &Suggestion{
					Error:       "Host key verification failed",
					Category:    "hostkey",
					Commands:    []string{"ssh-keyscan -p " + strconv.Itoa(t.Port) + " " + t.Host + " >> ~/.ssh/known_hosts"},
					Explanation: "The host is not in known_hosts and the client refused to add it. Verify the fingerprint before trusting it.",
					Confidence:  0.9,
					Risky:       true,
				}
			},
		},

		// Connection refused
		{
			name:     "connection_refused",
			pattern:  regexp.MustCompile(`(?i)connect to host (\S+) port (\d+): connection refused`),
			category: "network",
			suggest: func(matches []string, t Target) *Suggestion {
				return &Suggestion{
					Error:       "Connection refused by " + matches[1] + ":" + matches[2],
					Category:    "network",
					Commands:    []string{"nc -zv " + matches[1] + " " + matches[2]},
					Explanation: "Nothing is listening on that port. Check that sshd is running and that the port is right.",
					Confidence:  0.9,
				}
			},
		},

		// Timeout or no route
		{
			name:     "unreachable",
			pattern:  regexp.MustCompile(`(?i)connect to host (\S+) port (\d+): (connection timed out|no route to host|network is unreachable)`),
			category: "network",
			suggest: func(matches []string, _ Target) *Suggestion {
				return &Suggestion{
					Error:       "Host unreachable: " + strings.ToLower(matches[3]),
					Category:    "network",
					Commands:    []string{"ping -c 3 " + matches[1], "traceroute " + matches[1]},
					Explanation: "The host could not be reached. A firewall may be dropping the connection.",
					Confidence:  0.8,
				}
			},
		},

		// Name resolution
		{
			name:     "resolve",
			pattern:  regexp.MustCompile(`(?i)could not resolve hostname (\S+?):`),
			category: "network",
			suggest: func(matches []string, _ Target) *Suggestion {
				return &Suggestion{
					Error:       "Could not resolve " + matches[1],
					Category:    "network",
					Commands:    []string{"getent hosts " + matches[1]},
					Explanation: "The host name does not resolve. Check for typos or use the address.",
					Confidence:  0.85,
				}
			},
		},

		// Server accepts only keys
		{
			name:     "publickey_only",
			pattern:  regexp.MustCompile(`(?i)permission denied \(publickey\)`),
			category: "auth",
			suggest: func(_ []string, t Target) *Suggestion {
				return &Suggestion{
					Error:       "Server does not accept passwords",
					Category:    "auth",
					Commands:    []string{"ssh-copy-id -p " + strconv.Itoa(t.Port) + " " + t.User + "@" + t.Host},
					Explanation: "The server only offers public key authentication, so a stored password cannot be used.",
					Confidence:  0.85,
				}
			},
		},

		// Too many failures
		{
			name:     "too_many_failures",
			pattern:  regexp.MustCompile(`(?i)too many authentication failures`),
			category: "auth",
			suggest: func(_ []string, t Target) *Suggestion {
				return &Suggestion{
					Error:       "Too many authentication failures",
					Category:    "auth",
					Commands:    []string{"ssh -o IdentitiesOnly=yes -p " + strconv.Itoa(t.Port) + " " + t.User + "@" + t.Host},
					Explanation: "The agent offered too many keys before the password prompt was reached.",
					Confidence:  0.8,
				}
			},
		},

		// Wrong password
		{
			name:     "permission_denied",
			pattern:  regexp.MustCompile(`(?i)permission denied`),
			category: "auth",
			suggest: func(_ []string, t Target) *Suggestion {
				return &Suggestion{
					Error:       "Authentication rejected",
					Category:    "auth",
					Commands:    []string{"sshx -a " + t.Host + " -p " + strconv.Itoa(t.Port) + " -u " + t.User + " -P <credential>"},
					Explanation: "The stored credential was rejected. Update it by connecting again with the new one.",
					Confidence:  0.7,
				}
			},
		},

		// Bad client options
		{
			name:     "bad_option",
			pattern:  regexp.MustCompile(`(?i)(bad configuration option|unknown option|illegal option)[:\s-]*(\S*)`),
			category: "client",
			suggest: func(matches []string, _ Target) *Suggestion {
				return &Suggestion{
					Error:       "Login client rejected an option" + ifNotEmpty(matches[2], ": "+matches[2]),
					Category:    "client",
					Commands:    []string{"ssh -G localhost"},
					Explanation: "The configured login client does not understand its arguments or configuration.",
					Confidence:  0.6,
				}
			},
		},
	}
}

func knownHostsName(t Target) string {
	if t.Port == 0 || t.Port == 22 {
		return t.Host
	}
	return "'[" + t.Host + "]:" + strconv.Itoa(t.Port) + "'"
}

func ifNotEmpty(s, text string) string {
	if s != "" {
		return text
	}
	return ""
}
