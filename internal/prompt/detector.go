package prompt

import (
	"regexp"
	"strings"
	"sync"
)

// tailLines is how many trailing lines of output are searched for a prompt.
const tailLines = 10

// Detection is a matched prompt.
type Detection struct {
	Pattern     Pattern
	MatchedText string
}

// Detector matches terminal output against prompt patterns. Custom patterns
// are checked before the built-ins.
type Detector struct {
	patterns       []Pattern
	customPatterns []Pattern
	mu             sync.RWMutex
}

// NewDetector creates a detector with the default patterns.
func NewDetector() *Detector {
	return &Detector{
		patterns: DefaultPatterns(),
	}
}

// AddPattern adds a custom pattern.
func (d *Detector) AddPattern(p Pattern) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.customPatterns = append(d.customPatterns, p)
}

// AddPatternFromConfig compiles regex and adds it as a custom pattern.
func (d *Detector) AddPatternFromConfig(name, regex, promptType string, maskInput bool) error {
	re, err := regexp.Compile(regex)
	if err != nil {
		return err
	}
	d.AddPattern(Pattern{
		Name:      name,
		Regex:     re,
		Type:      parsePromptType(promptType),
		MaskInput: maskInput,
	})
	return nil
}

// Detect returns the first pattern matching the tail of buffer, or nil.
func (d *Detector) Detect(buffer string) *Detection {
	d.mu.RLock()
	defer d.mu.RUnlock()

	recent := tail(buffer)
	for _, set := range [][]Pattern{d.customPatterns, d.patterns} {
		for _, p := range set {
			if loc := p.Regex.FindStringIndex(recent); loc != nil {
				return &Detection{Pattern: p, MatchedText: recent[loc[0]:loc[1]]}
			}
		}
	}
	return nil
}

// DetectType is like Detect but only considers patterns of type t.
func (d *Detector) DetectType(buffer string, t PromptType) *Detection {
	d.mu.RLock()
	defer d.mu.RUnlock()

	recent := tail(buffer)
	for _, set := range [][]Pattern{d.customPatterns, d.patterns} {
		for _, p := range set {
			if p.Type != t {
				continue
			}
			if loc := p.Regex.FindStringIndex(recent); loc != nil {
				return &Detection{Pattern: p, MatchedText: recent[loc[0]:loc[1]]}
			}
		}
	}
	return nil
}

// IsPasswordPrompt reports whether the detection asks for a secret.
func (det *Detection) IsPasswordPrompt() bool {
	return det.Pattern.Type == PromptTypePassword
}

// IsRejection reports whether the detection is an authentication refusal.
func (det *Detection) IsRejection() bool {
	return det.Pattern.Type == PromptTypeRejection
}

func tail(buffer string) string {
	lines := strings.Split(buffer, "\n")
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}
	return strings.Join(lines, "\n")
}
