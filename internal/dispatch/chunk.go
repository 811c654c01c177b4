package dispatch

import (
	"strings"
	"unicode/utf8"
)

// Per-platform message size limits, in bytes.
const (
	whatsappMaxLen = 4096
	telegramMaxLen = 4000
	smsMaxLen      = 1600
)

// splitMessage cuts msg into chunks of at most maxLen bytes, preferring a
// newline in the second half of the window and never splitting a rune.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		if idx := strings.LastIndex(msg[:cut], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
