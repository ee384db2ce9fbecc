// Package paircode generates and normalizes the human-enterable codes used to pair two devices.
package paircode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

const (
	// Length is the number of symbols in a raw code
	Length = 8
	// Alphabet omits 0, O, I and 1 so codes can be read aloud
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var (
	rawPattern   = regexp.MustCompile(`^[A-Z0-9]{8}$`)
	nonAlnumExpr = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// Generate returns a random 8-symbol code drawn from Alphabet
func Generate() (string, error) {
	code := make([]byte, Length)
	max := big.NewInt(int64(len(Alphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		code[i] = Alphabet[n.Int64()]
	}
	return string(code), nil
}

// Format renders a code for display, e.g. AB12CD34 -> AB12-CD34.
// Codes of any other length are returned unchanged.
func Format(code string) string {
	if len(code) != Length {
		return code
	}
	return code[:4] + "-" + code[4:]
}

// Unformat strips every non-alphanumeric character and upper-cases the rest
func Unformat(raw string) string {
	return strings.ToUpper(nonAlnumExpr.ReplaceAllString(raw, ""))
}

// IsValidFormat reports whether raw normalizes to an 8-character code
func IsValidFormat(raw string) bool {
	return rawPattern.MatchString(Unformat(raw))
}
