// utils/joincode.go
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const joinCodePrefixMax = 12

// GenerateJoinCode derives a shareable code from a challenge title: a short
// slug prefix plus six random hex digits, e.g. "MARCH-MILES-7F3A9C".
func GenerateJoinCode(title string) (string, error) {
	prefix := slug.Make(title)
	if len(prefix) > joinCodePrefixMax {
		prefix = strings.Trim(prefix[:joinCodePrefixMax], "-")
	}
	if prefix == "" {
		prefix = "challenge"
	}

	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate join code: %w", err)
	}
	return NormalizeJoinCode(prefix + "-" + hex.EncodeToString(buf)), nil
}

// NormalizeJoinCode canonicalises a user-typed code so that full-width or
// lower-case input matches the stored value.
func NormalizeJoinCode(code string) string {
	code = norm.NFKC.String(strings.TrimSpace(code))
	// Casers keep state between calls and must not be shared.
	return cases.Upper(language.Und).String(code)
}
