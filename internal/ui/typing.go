package ui

import (
	"iter"
	"time"
	"unicode/utf8"
)

// DefaultTypingDelay is the pause between two characters of the typing
// effect.
const DefaultTypingDelay = 10 * time.Millisecond

// Typing returns the growing prefixes of text, one rune at a time, pausing
// delay between consecutive prefixes. The sequence is lazy: nothing sleeps
// until it is ranged over, and breaking out of the loop stops it at once.
// The last prefix is text itself. An empty text yields nothing.
func Typing(text string, delay time.Duration) iter.Seq[string] {
	return func(yield func(string) bool) {
		for end := 0; end < len(text); {
			_, size := utf8.DecodeRuneInString(text[end:])
			if end > 0 && delay > 0 {
				time.Sleep(delay)
			}
			end += size
			if !yield(text[:end]) {
				return
			}
		}
	}
}
