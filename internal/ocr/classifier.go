package ocr

import "context"

// ProbabilityMatrix holds one probability vector per recognized character
// slot. Every vector is indexed like the charset it was produced for.
type ProbabilityMatrix [][]float64

// Classifier is the OCR capability the service orchestrates.
type Classifier interface {
	// Classify returns the raw text recognized in an encoded image.
	Classify(ctx context.Context, img []byte) (string, error)

	// ClassifyProbabilities recognizes img restricted to charset and returns
	// per-position probabilities over it.
	ClassifyProbabilities(ctx context.Context, img []byte, charset []rune) (ProbabilityMatrix, error)

	// Close releases the engine.
	Close() error
}
