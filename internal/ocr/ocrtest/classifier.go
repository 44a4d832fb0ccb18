// Package ocrtest provides a scripted ocr.Classifier for tests.
package ocrtest

import (
	"context"
	"sync"

	"go-captcha-ocr/internal/ocr"
)

// Classifier answers every call with the configured values and counts calls.
type Classifier struct {
	Text   string
	Matrix ocr.ProbabilityMatrix
	Err    error

	mu       sync.Mutex
	calls    int
	charsets [][]rune
}

// Classify returns Text or Err
func (c *Classifier) Classify(ctx context.Context, img []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.Text, c.Err
}

// ClassifyProbabilities returns Matrix or Err
func (c *Classifier) ClassifyProbabilities(ctx context.Context, img []byte, charset []rune) (ocr.ProbabilityMatrix, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.charsets = append(c.charsets, charset)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Matrix, c.Err
}

// Close is a no-op
func (c *Classifier) Close() error { return nil }

// Calls reports how many recognitions were requested
func (c *Classifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Charsets returns the charsets passed to ClassifyProbabilities
func (c *Classifier) Charsets() [][]rune {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]rune, len(c.charsets))
	copy(out, c.charsets)
	return out
}

// OneHot builds a matrix selecting the given index at each position over a
// charset of size n.
func OneHot(n int, indexes ...int) ocr.ProbabilityMatrix {
	m := make(ocr.ProbabilityMatrix, len(indexes))
	for pos, idx := range indexes {
		vec := make([]float64, n)
		vec[idx] = 1
		m[pos] = vec
	}
	return m
}
