package ocr

import (
	"context"
	"math/rand"
	"time"

	"go-captcha-ocr/internal/imaging"
	"go-captcha-ocr/internal/logger"

	"github.com/sirupsen/logrus"
)

// ConsensusResult is the outcome of one consensus run.
type ConsensusResult struct {
	Text       string
	Candidates []string
	Attempts   int
	// Fallback is set when no attempt produced a valid candidate and Text
	// was drawn at random.
	Fallback bool
}

// ConsensusEngine recognizes two-digit captchas by binarizing the image at
// an escalating series of thresholds and voting over the OCR answers.
type ConsensusEngine struct {
	classifier Classifier
	options    Options
	intn       func(n int) int
}

// NewConsensusEngine creates a consensus engine over classifier
func NewConsensusEngine(classifier Classifier, options Options) *ConsensusEngine {
	return &ConsensusEngine{
		classifier: classifier,
		options:    options,
		intn:       rand.Intn,
	}
}

// Options returns the engine configuration
func (e *ConsensusEngine) Options() Options {
	return e.options
}

// Recognize decodes base64Image and runs the consensus loop. It never fails:
// an undecodable image yields a fallback answer.
func (e *ConsensusEngine) Recognize(ctx context.Context, base64Image string) string {
	grid, err := imaging.DecodeBase64(base64Image)
	if err != nil {
		logger.WithError(err).Debug("Consensus input not decodable, using fallback")
		return Fallback(e.intn)
	}
	return e.RecognizeGrid(ctx, grid).Text
}

// RecognizeGrid runs every scheduled attempt against the original grid.
func (e *ConsensusEngine) RecognizeGrid(ctx context.Context, grid *imaging.PixelGrid) ConsensusResult {
	schedule := e.options.Schedule()
	candidates := make([]string, 0, len(schedule))

	for attempt, threshold := range schedule {
		raw, err := e.attempt(ctx, grid, threshold)
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"attempt":   attempt + 1,
				"threshold": threshold,
			}).Debug("OCR attempt failed")
			continue
		}

		normalized := Normalize(raw)
		valid := IsValidCandidate(normalized)
		if valid {
			candidates = append(candidates, normalized)
		}

		logger.WithFields(logrus.Fields{
			"attempt":    attempt + 1,
			"threshold":  threshold,
			"raw":        raw,
			"normalized": normalized,
			"valid":      valid,
		}).Debug("OCR attempt completed")
	}

	result := ConsensusResult{
		Candidates: candidates,
		Attempts:   len(schedule),
	}
	if text, ok := Mode(candidates); ok {
		result.Text = text
	} else {
		result.Text = Fallback(e.intn)
		result.Fallback = true
	}
	return result
}

func (e *ConsensusEngine) attempt(ctx context.Context, grid *imaging.PixelGrid, threshold int) (string, error) {
	data, err := imaging.Encode(imaging.Binarize(grid, threshold))
	if err != nil {
		return "", err
	}

	attemptCtx, cancel := withOptionalTimeout(ctx, e.options.AttemptTimeout)
	defer cancel()
	return e.classifier.Classify(attemptCtx, data)
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
