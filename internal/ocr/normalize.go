package ocr

import (
	"fmt"
	"strings"
)

// CandidateLength is the length of a valid digit-captcha answer.
const CandidateLength = 2

// confusables maps letters OCR tends to return for digits.
var confusables = map[rune]rune{
	'o': '0', 'O': '0',
	'i': '1', 'I': '1', 'l': '1',
	's': '5', 'S': '5',
	'z': '2', 'Z': '2',
	'b': '6',
}

// Normalize replaces confusable letters with the digits they stand for.
// Anything outside the table is kept as is.
func Normalize(raw string) string {
	return strings.Map(func(r rune) rune {
		if d, ok := confusables[r]; ok {
			return d
		}
		return r
	}, raw)
}

// IsValidCandidate reports whether s is exactly two decimal digits.
func IsValidCandidate(s string) bool {
	if len(s) != CandidateLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Mode returns the most frequent candidate. Ties go to the candidate seen
// first. ok is false for an empty slice.
func Mode(candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	counts := make(map[string]int, len(candidates))
	for _, c := range candidates {
		counts[c]++
	}

	best, bestCount := "", 0
	for _, c := range candidates {
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	return best, true
}

// Fallback formats a uniformly random integer in [1, 99] as two digits.
func Fallback(intn func(n int) int) string {
	return fmt.Sprintf("%02d", intn(99)+1)
}
