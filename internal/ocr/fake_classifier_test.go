package ocr

import (
	"context"
	"errors"
	"sync"
)

// fakeClassifier replays scripted answers in call order.
type fakeClassifier struct {
	mu        sync.Mutex
	answers   []string
	errs      []error
	matrix    ProbabilityMatrix
	matrixErr error
	images    [][]byte
	charsets  [][]rune
	calls     int
}

func (f *fakeClassifier) Classify(ctx context.Context, img []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	f.images = append(f.images, img)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.answers) {
		return f.answers[i], nil
	}
	return "", errors.New("no scripted answer")
}

func (f *fakeClassifier) ClassifyProbabilities(ctx context.Context, img []byte, charset []rune) (ProbabilityMatrix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.images = append(f.images, img)
	f.charsets = append(f.charsets, charset)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.matrix, f.matrixErr
}

func (f *fakeClassifier) Close() error { return nil }
