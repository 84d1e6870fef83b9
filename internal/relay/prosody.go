package relay

import "strings"

const (
	chunkMinChars  = 60
	chunkMidChars  = 100
	chunkHardChars = 200
)

var conjunctionPauses = []string{"and", "or", "but", "because", "then"}

// shouldFlush decides whether accumulated response text is ready for the
// synthesis leg. Pure over the buffer contents; rules in priority order,
// tuned so speech starts early without synthesizing robotic fragments.
func shouldFlush(buffer string) bool {
	trimmed := strings.TrimRight(buffer, " \t\r\n")
	if trimmed == "" {
		return false
	}
	if endsWithTerminal(trimmed) {
		return true
	}
	n := len(trimmed)
	switch {
	case n < chunkMinChars:
		return false
	case n < chunkMidChars:
		return endsWithClauseMark(trimmed)
	case n < chunkHardChars:
		return endsWithClauseMark(trimmed) || hasConjunctionPause(trimmed)
	default:
		return true
	}
}

// endsWithTerminal reports sentence-terminal punctuation, tolerating one
// trailing closing quote.
func endsWithTerminal(s string) bool {
	last := s[len(s)-1]
	if last == '"' || last == '\'' {
		if len(s) < 2 {
			return false
		}
		last = s[len(s)-2]
	}
	return last == '.' || last == '!' || last == '?'
}

func endsWithClauseMark(s string) bool {
	switch s[len(s)-1] {
	case ',', ';', ':':
		return true
	}
	return false
}

// hasConjunctionPause reports a conjunction with at least one word after it,
// a natural place to breathe mid-sentence.
func hasConjunctionPause(s string) bool {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		if i == len(words)-1 {
			break
		}
		for _, conj := range conjunctionPauses {
			if w == conj {
				return true
			}
		}
	}
	return false
}

// Chunker accumulates response deltas and emits prosody-shaped chunks for
// the synthesis leg. Not safe for concurrent use; each call's relay owns one.
type Chunker struct {
	buffer strings.Builder
}

// Push appends one delta and returns a chunk when a flush rule fires.
func (c *Chunker) Push(delta string) (string, bool) {
	c.buffer.WriteString(delta)
	if !shouldFlush(c.buffer.String()) {
		return "", false
	}
	chunk := decorate(c.buffer.String(), false)
	c.buffer.Reset()
	return chunk, chunk != ""
}

// Reset discards buffered text, used when a turn is cut by barge-in.
func (c *Chunker) Reset() {
	c.buffer.Reset()
}

// Finalize drains whatever remains at end of turn as the final chunk.
func (c *Chunker) Finalize() (string, bool) {
	chunk := decorate(c.buffer.String(), true)
	c.buffer.Reset()
	return chunk, chunk != ""
}

// decorate trims the chunk and, when it lacks terminal punctuation, appends
// a comma (mid-turn) or period (final) so the synthesizer infers intonation.
func decorate(raw string, final bool) string {
	chunk := strings.TrimSpace(raw)
	if chunk == "" {
		return ""
	}
	if endsWithTerminal(chunk) {
		return chunk
	}
	if endsWithClauseMark(chunk) {
		if final {
			return strings.TrimRight(chunk, ",;:") + "."
		}
		return chunk
	}
	if final {
		return chunk + "."
	}
	return chunk + ","
}
