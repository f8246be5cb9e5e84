package detect

import "regexp"

// Class is the coarse classification of one canonical output fragment.
type Class int

const (
	// ClassIndeterminate is real output that matches no pattern set.
	ClassIndeterminate Class = iota
	// ClassNoise is ephemeral UI chrome: spinner frames, status counters.
	ClassNoise
	// ClassWaiting is an explicit prompt requiring user confirmation.
	ClassWaiting
	// ClassReady is an idle-prompt signature.
	ClassReady
)

// Classifier maps canonical (escape-stripped, trimmed) text to a Class.
// Pattern sets are heuristic and tuned per hosted CLI, so implementations
// are swappable without touching the state machine.
type Classifier interface {
	Classify(text string) Class
}

// Claude Code output signatures. Noise must be checked before Waiting and
// Waiting before Ready: spinner debris carries no lifecycle information,
// and a fragment that shows both a confirmation prompt and an input box
// means the process is blocked on the confirmation.
var (
	noisePatterns = []*regexp.Regexp{
		// Braille spinner frames used by the CLI's activity indicator.
		regexp.MustCompile(`[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏]`),
		// Star/asterisk spinner variants with a trailing ellipsis.
		regexp.MustCompile(`[·✢✳✶✻✽]\s*\S+…`),
		// Timing/token status lines: "(45s · 1.2k tokens · esc to interrupt)".
		regexp.MustCompile(`\(\d+m?\s?\d*s?\s*·[^)]*(?:tokens|↑|↓)[^)]*\)`),
		regexp.MustCompile(`(?i)(?:esc|ctrl\+c) to interrupt`),
	}

	waitingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)do you want`),
		regexp.MustCompile(`(?i)\(y/n\)`),
		regexp.MustCompile(`(?i)\byes/no\b`),
		regexp.MustCompile(`❯\s*1\.\s*Yes`),
		regexp.MustCompile(`(?i)press enter to continue`),
		regexp.MustCompile(`(?i)proceed\?`),
	}

	readyPatterns = []*regexp.Regexp{
		// The framed input box: "│ > " on its own row.
		regexp.MustCompile(`│\s*>\s`),
		// A bare prompt character at the start of a line.
		regexp.MustCompile(`(?m)^\s*[❯>]\s*$`),
		regexp.MustCompile(`\? for shortcuts`),
	}
)

// ClaudeClassifier classifies Claude Code terminal output.
type ClaudeClassifier struct{}

func (ClaudeClassifier) Classify(text string) Class {
	for _, p := range noisePatterns {
		if p.MatchString(text) {
			return ClassNoise
		}
	}
	for _, p := range waitingPatterns {
		if p.MatchString(text) {
			return ClassWaiting
		}
	}
	for _, p := range readyPatterns {
		if p.MatchString(text) {
			return ClassReady
		}
	}
	return ClassIndeterminate
}
