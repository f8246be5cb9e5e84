package detect

import "regexp"

// Terminal escape sequences are stripped before classification so the
// pattern sets only ever see printable text. OSC sequences (window title
// updates) are removed first because they contain a nested ESC terminator.
var (
	oscSeq  = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
	csiSeq  = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	escSeq  = regexp.MustCompile(`\x1b[@-_]`)
	ctlByte = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
)

// StripEscape removes terminal control and escape sequences from a raw
// output chunk, returning the remaining printable text. Newlines, carriage
// returns, and tabs survive; callers trim whitespace as needed.
func StripEscape(raw []byte) string {
	s := oscSeq.ReplaceAll(raw, nil)
	s = csiSeq.ReplaceAll(s, nil)
	s = escSeq.ReplaceAll(s, nil)
	s = ctlByte.ReplaceAll(s, nil)
	return string(s)
}
