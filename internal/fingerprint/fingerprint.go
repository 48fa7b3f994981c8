// Package fingerprint identifies imported entries by their normalized text,
// so a re-import recognizes cards it has already stored.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/conorfennell/topnote/internal/parser"
)

// Normalize joins the entry's type and fields after cleaning each part.
// Cleaning trims whitespace, lowercases and unifies line endings.
func Normalize(e parser.Entry) string {
	clean := func(part string) string {
		p := strings.ToLower(part)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return strings.TrimSpace(p)
	}

	// Newline separators keep "ab"+"c" distinct from "a"+"bc".
	return strings.Join([]string{
		e.Type.String(),
		clean(e.Content),
		clean(e.Answer),
		clean(e.Context),
	}, "\n")
}

// Of returns the SHA-256 of the normalized entry as a hex string.
func Of(e parser.Entry) string {
	sum := sha256.Sum256([]byte(Normalize(e)))
	return fmt.Sprintf("%x", sum)
}
