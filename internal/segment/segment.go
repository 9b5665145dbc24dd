// Package segment splits a streaming text channel into sentence-sized
// segments suitable for incremental TTS.
package segment

import "strings"

// minFlushChars is the minimum buffered length before a non-forced flush is
// allowed, so TTS isn't handed one word at a time.
const minFlushChars = 60

var sentenceEnders = map[byte]bool{'.': true, '!': true, '?': true}

// Flusher accumulates streamed text and releases sentence-sized segments.
type Flusher struct {
	buf strings.Builder
}

// Add appends a token to the buffer. If non-forced flushing is eligible
// (buffer length >= 60 and a terminal punctuation mark is present), it
// returns the segment up to and including the last sentence boundary,
// retaining the remainder in the buffer. Otherwise returns "".
//
// nonEnglishDetected gates non-forced flushing entirely: while set, Add
// accumulates silently and returns nothing until Flush is called.
func (f *Flusher) Add(token string, nonEnglishDetected bool) string {
	f.buf.WriteString(token)
	if nonEnglishDetected {
		return ""
	}

	text := f.buf.String()
	if len(text) < minFlushChars {
		return ""
	}

	complete, remainder := splitAtSentence(text)
	if complete == "" {
		return ""
	}
	f.buf.Reset()
	f.buf.WriteString(remainder)
	return complete
}

// Flush returns the entire remaining buffer, trimmed, and clears it. Used
// at text_done to hand whatever is left to TTS.
func (f *Flusher) Flush() string {
	text := strings.TrimSpace(f.buf.String())
	f.buf.Reset()
	return text
}

// Reset discards buffered text without returning it, used when Enforcement
// replaces the partial buffer outright.
func (f *Flusher) Reset() {
	f.buf.Reset()
}

// splitAtSentence finds the last sentence boundary in text. A boundary is a
// sentence ender (.!?) followed by whitespace; an ender that is the last
// byte of text is not a boundary. Returns
// (completeSentences, remainder); if no boundary is found, returns ("", text).
func splitAtSentence(text string) (string, string) {
	lastIdx := -1
	for i := 0; i < len(text)-1; i++ {
		if sentenceEnders[text[i]] && isWordBoundary(text[i+1]) {
			lastIdx = i + 1
		}
	}
	if lastIdx < 0 {
		return "", text
	}
	return strings.TrimSpace(text[:lastIdx]), text[lastIdx:]
}

func isWordBoundary(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\t'
}
