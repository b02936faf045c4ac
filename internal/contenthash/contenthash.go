// Package contenthash fingerprints page and attachment content. Text is
// normalized before hashing so that line-ending and whitespace noise
// introduced by editors does not register as a change.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Size is the length of a hex encoded digest.
const Size = sha256.Size * 2

// Hash returns the SHA-256 hex digest of data.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashText normalizes text and returns the digest of the result.
func HashText(text string) string {
	return Hash([]byte(Normalize(text)))
}

// Normalize canonicalizes markdown text for comparison:
//   - CRLF and lone CR become LF
//   - trailing whitespace is stripped from every line
//   - runs of two or more blank lines collapse to a single blank line
//   - leading and trailing document whitespace is trimmed
//   - a non-empty result ends with exactly one newline
//
// Normalize is idempotent.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")

	var b strings.Builder
	b.Grow(len(text) + 1)

	blank := 0

	for _, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			blank++
			continue
		}

		if b.Len() > 0 {
			b.WriteByte('\n')

			if blank > 0 {
				b.WriteByte('\n')
			}
		}

		blank = 0

		b.WriteString(line)
	}

	out := strings.TrimLeftFunc(b.String(), unicode.IsSpace)
	if out == "" {
		return ""
	}

	return out + "\n"
}

// Equal reports whether two texts are identical after normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
