package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "go-captcha-ocr/internal/errors"
	"go-captcha-ocr/internal/imaging"
)

const (
	// LowercaseCharset is the default set for the English route.
	LowercaseCharset = "abcdefghijklmnopqrstuvwxyz "
	// DigitCharset is selected by the numeric-range marker.
	DigitCharset = "0123456789"
)

// CharsetKind says how a CharsetSpec was given
type CharsetKind int

const (
	CharsetDefault CharsetKind = iota
	CharsetDigits
	CharsetExplicit
)

// CharsetSpec restricts recognition to a set of characters.
type CharsetSpec struct {
	Kind  CharsetKind
	Chars []rune
}

// ParseCharset reads a request charset value. An empty value selects the
// route default, "digits" or "0-9" select digits, anything else is taken as
// an ordered set of allowed characters (duplicates dropped).
func ParseCharset(value string) CharsetSpec {
	if value == "" {
		return CharsetSpec{Kind: CharsetDefault}
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "digits", "0-9":
		return CharsetSpec{Kind: CharsetDigits, Chars: []rune(DigitCharset)}
	}

	seen := make(map[rune]bool, len(value))
	chars := make([]rune, 0, len(value))
	for _, r := range value {
		if !seen[r] {
			seen[r] = true
			chars = append(chars, r)
		}
	}
	return CharsetSpec{Kind: CharsetExplicit, Chars: chars}
}

// Resolve returns the characters to use, or fallback for the default kind.
func (c CharsetSpec) Resolve(fallback []rune) []rune {
	if c.Kind == CharsetDefault || len(c.Chars) == 0 {
		return fallback
	}
	return c.Chars
}

// DecodeProbabilities picks, per position, the charset character with the
// highest probability. Ties go to the lower index.
func DecodeProbabilities(matrix ProbabilityMatrix, charset []rune) (string, error) {
	var sb strings.Builder
	for pos, vec := range matrix {
		if len(vec) != len(charset) {
			return "", fmt.Errorf("position %d: %d probabilities for %d characters", pos, len(vec), len(charset))
		}
		best := 0
		for i := 1; i < len(vec); i++ {
			if vec[i] > vec[best] {
				best = i
			}
		}
		sb.WriteRune(charset[best])
	}
	return sb.String(), nil
}

// CharsetDecoder recognizes an image in probability mode, restricted to a
// charset. It trusts a single OCR pass; there is no threshold loop.
type CharsetDecoder struct {
	classifier Classifier
	timeout    time.Duration
}

// NewCharsetDecoder creates a decoder; timeout bounds the OCR call.
func NewCharsetDecoder(classifier Classifier, timeout time.Duration) *CharsetDecoder {
	return &CharsetDecoder{
		classifier: classifier,
		timeout:    timeout,
	}
}

// DecodeBase64 decodes the image, then recognizes it against charset.
func (d *CharsetDecoder) DecodeBase64(ctx context.Context, base64Image string, charset []rune) (string, error) {
	grid, err := imaging.DecodeBase64(base64Image)
	if err != nil {
		return "", err
	}
	return d.Decode(ctx, grid, charset)
}

// Decode re-encodes grid and reduces the classifier's probability matrix to
// text. Every failure is reported as a recognition error.
func (d *CharsetDecoder) Decode(ctx context.Context, grid *imaging.PixelGrid, charset []rune) (string, error) {
	if len(charset) == 0 {
		return "", apperrors.NewRecognitionError("charset is empty", nil)
	}
	data, err := imaging.Encode(grid)
	if err != nil {
		return "", apperrors.NewRecognitionError("image could not be prepared for OCR", err)
	}

	callCtx, cancel := withOptionalTimeout(ctx, d.timeout)
	defer cancel()

	matrix, err := d.classifier.ClassifyProbabilities(callCtx, data, charset)
	if err != nil {
		return "", apperrors.NewRecognitionError("OCR engine failed", err)
	}
	if len(matrix) == 0 {
		return "", apperrors.NewRecognitionError("OCR engine returned no result", nil)
	}

	text, err := DecodeProbabilities(matrix, charset)
	if err != nil {
		return "", apperrors.NewRecognitionError("OCR engine returned a malformed result", err)
	}
	return text, nil
}
