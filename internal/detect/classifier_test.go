package detect

import "testing"

func TestClaudeClassifier(t *testing.T) {
	c := ClaudeClassifier{}

	cases := []struct {
		name string
		text string
		want Class
	}{
		{"spinner frame", "⠋ Thinking…", ClassNoise},
		{"star spinner", "✻ Flummoxing… (12s · 340 tokens)", ClassNoise},
		{"token counter", "(45s · 1.2k tokens · esc to interrupt)", ClassNoise},
		{"interrupt hint", "esc to interrupt", ClassNoise},
		{"confirmation prompt", "Do you want to make this edit?", ClassWaiting},
		{"yes no prompt", "Overwrite file? (y/n)", ClassWaiting},
		{"numbered choice", "❯ 1. Yes", ClassWaiting},
		{"press enter", "Press Enter to continue", ClassWaiting},
		{"input box", "│ > ", ClassReady},
		{"bare prompt", "❯", ClassReady},
		{"shortcuts hint", "? for shortcuts", ClassReady},
		{"plain output", "compiled 14 packages in 2.1s", ClassIndeterminate},
		{"tool result", "Read main.go (120 lines)", ClassIndeterminate},
	}

	for _, tc := range cases {
		if got := c.Classify(tc.text); got != tc.want {
			t.Errorf("%s: Classify(%q) = %v, want %v", tc.name, tc.text, got, tc.want)
		}
	}
}

func TestClaudeClassifier_NoiseBeatsWaiting(t *testing.T) {
	// A spinner frame embedded alongside prompt text is still debris.
	c := ClaudeClassifier{}
	if got := c.Classify("⠙ Do you want to continue?"); got != ClassNoise {
		t.Errorf("expected ClassNoise, got %v", got)
	}
}

func TestClaudeClassifier_WaitingBeatsReady(t *testing.T) {
	// A confirmation dialog rendered together with the input box blocks
	// on the confirmation.
	c := ClaudeClassifier{}
	if got := c.Classify("Do you want to proceed?\n│ > "); got != ClassWaiting {
		t.Errorf("expected ClassWaiting, got %v", got)
	}
}
