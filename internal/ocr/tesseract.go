package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractClassifier implements Classifier with a single shared gosseract
// client. The client keeps per-call state (image, whitelist), so every call
// goes through a one-worker Dispatcher.
type TesseractClassifier struct {
	client     *gosseract.Client
	dispatcher *Dispatcher
}

// NewTesseractClassifier constructs the process-wide Tesseract engine.
func NewTesseractClassifier(language string) (*TesseractClassifier, error) {
	client := gosseract.NewClient()
	if language != "" {
		if err := client.SetLanguage(language); err != nil {
			client.Close()
			return nil, fmt.Errorf("set language %q: %w", language, err)
		}
	}

	dispatcher := NewDispatcher(1)
	dispatcher.Start()

	return &TesseractClassifier{
		client:     client,
		dispatcher: dispatcher,
	}, nil
}

// Classify performs free-form OCR on a single image.
func (t *TesseractClassifier) Classify(ctx context.Context, img []byte) (string, error) {
	return Call(ctx, t.dispatcher, func() (string, error) {
		if err := t.prepare(img, "", gosseract.PSM_SINGLE_LINE); err != nil {
			return "", err
		}
		text, err := t.client.Text()
		if err != nil {
			return "", fmt.Errorf("recognize text: %w", err)
		}
		return strings.TrimSpace(text), nil
	})
}

// ClassifyProbabilities recognizes img with a whitelist and turns per-symbol
// confidences into probability vectors over charset.
func (t *TesseractClassifier) ClassifyProbabilities(ctx context.Context, img []byte, charset []rune) (ProbabilityMatrix, error) {
	if len(charset) == 0 {
		return nil, fmt.Errorf("empty charset")
	}
	return Call(ctx, t.dispatcher, func() (ProbabilityMatrix, error) {
		if err := t.prepare(img, string(charset), gosseract.PSM_SINGLE_LINE); err != nil {
			return nil, err
		}
		boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_SYMBOL)
		if err != nil {
			return nil, fmt.Errorf("symbol boxes: %w", err)
		}
		return symbolVectors(boxes, charset), nil
	})
}

// Close shuts down the dispatcher and releases the Tesseract client.
func (t *TesseractClassifier) Close() error {
	t.dispatcher.Close()
	return t.client.Close()
}

func (t *TesseractClassifier) prepare(img []byte, whitelist string, mode gosseract.PageSegMode) error {
	if err := t.client.SetWhitelist(whitelist); err != nil {
		return fmt.Errorf("set whitelist: %w", err)
	}
	if err := t.client.SetPageSegMode(mode); err != nil {
		return fmt.Errorf("set page seg mode: %w", err)
	}
	if err := t.client.SetImageFromBytes(img); err != nil {
		return fmt.Errorf("set image: %w", err)
	}
	return nil
}

// symbolVectors spreads each symbol's confidence over the charset. The
// recognized rune stays the strict argmax even at zero confidence.
func symbolVectors(boxes []gosseract.BoundingBox, charset []rune) ProbabilityMatrix {
	n := len(charset)
	index := make(map[rune]int, n)
	for i, r := range charset {
		if _, ok := index[r]; !ok {
			index[r] = i
		}
	}

	matrix := make(ProbabilityMatrix, 0, len(boxes))
	for _, box := range boxes {
		for _, r := range box.Word {
			idx, ok := index[r]
			if !ok {
				continue
			}
			conf := box.Confidence / 100
			if conf < 0 {
				conf = 0
			} else if conf > 1 {
				conf = 1
			}

			vec := make([]float64, n)
			if n == 1 {
				vec[0] = 1
			} else {
				rest := (1 - conf) / float64(n+1)
				top := 1 - rest*float64(n-1)
				for i := range vec {
					vec[i] = rest
				}
				vec[idx] = top
			}
			matrix = append(matrix, vec)
		}
	}
	return matrix
}
