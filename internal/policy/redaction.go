package policy

import "regexp"

// transcriptRule pairs a detector with its mask. Order matters: card
// shapes run before the generic phone matcher so a card number read
// aloud is not half-eaten as a phone number.
type transcriptRule struct {
	pattern *regexp.Regexp
	mask    string
}

var transcriptRules = []transcriptRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	// Speech recognition renders card numbers as spaced, dashed, or
	// dotted digit groups ("4242 4242 4242 4242").
	{regexp.MustCompile(`\b(?:\d[ .\-]*?){13,19}\b`), "[REDACTED_CARD]"},
	// Callers also read numbers one digit word at a time.
	{regexp.MustCompile(`(?i)\b(?:(?:zero|oh|one|two|three|four|five|six|seven|eight|nine)[ ,\-]+){6,}(?:zero|oh|one|two|three|four|five|six|seven|eight|nine)\b`), "[REDACTED_NUMBER]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-(). ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks sensitive patterns in transcript text before it is
// persisted to the call log. Caller and callee numbers live on the
// session record; this scrubs only what was spoken on the line.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range transcriptRules {
		out = r.pattern.ReplaceAllString(out, r.mask)
	}
	return out, out != input
}
