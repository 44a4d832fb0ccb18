package strategy

import (
	"context"
	"sync"

	"go-captcha-ocr/internal/imaging"
	"go-captcha-ocr/internal/ocr"
)

// Mode selects how a request is recognized
type Mode string

const (
	// ModeConsensus votes over several binarized OCR attempts
	ModeConsensus Mode = "consensus"
	// ModeCharset decodes per-position probabilities over a character set
	ModeCharset Mode = "charset"
)

// Outcome is what a strategy produced for one image
type Outcome struct {
	Text       string
	Attempts   int
	Candidates int
	Fallback   bool
}

// RecognitionStrategy defines the interface for recognition modes
type RecognitionStrategy interface {
	Recognize(ctx context.Context, grid *imaging.PixelGrid, charset string) (Outcome, error)
	GetStrategyName() Mode
}

// ConsensusStrategy answers two-digit captchas and never fails
type ConsensusStrategy struct {
	engine *ocr.ConsensusEngine
}

// NewConsensusStrategy creates a new consensus strategy
func NewConsensusStrategy(engine *ocr.ConsensusEngine) *ConsensusStrategy {
	return &ConsensusStrategy{
		engine: engine,
	}
}

// Recognize runs the consensus loop. charset is ignored.
func (s *ConsensusStrategy) Recognize(ctx context.Context, grid *imaging.PixelGrid, charset string) (Outcome, error) {
	result := s.engine.RecognizeGrid(ctx, grid)
	return Outcome{
		Text:       result.Text,
		Attempts:   result.Attempts,
		Candidates: len(result.Candidates),
		Fallback:   result.Fallback,
	}, nil
}

// RecognizeBase64 is the unauthenticated raw-body entry point
func (s *ConsensusStrategy) RecognizeBase64(ctx context.Context, base64Image string) string {
	return s.engine.Recognize(ctx, base64Image)
}

// GetStrategyName returns the strategy name
func (s *ConsensusStrategy) GetStrategyName() Mode {
	return ModeConsensus
}

// CharsetStrategy decodes text restricted to a character set
type CharsetStrategy struct {
	decoder        *ocr.CharsetDecoder
	defaultCharset []rune
}

// NewCharsetStrategy creates a charset strategy; defaultCharset applies when
// the request names none.
func NewCharsetStrategy(decoder *ocr.CharsetDecoder, defaultCharset string) *CharsetStrategy {
	return &CharsetStrategy{
		decoder:        decoder,
		defaultCharset: []rune(defaultCharset),
	}
}

// Recognize decodes grid over the requested or default charset
func (s *CharsetStrategy) Recognize(ctx context.Context, grid *imaging.PixelGrid, charset string) (Outcome, error) {
	chars := ocr.ParseCharset(charset).Resolve(s.defaultCharset)
	text, err := s.decoder.Decode(ctx, grid, chars)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Text: text}, nil
}

// GetStrategyName returns the strategy name
func (s *CharsetStrategy) GetStrategyName() Mode {
	return ModeCharset
}

// Registry maps modes to strategies
type Registry struct {
	mu         sync.RWMutex
	strategies map[Mode]RecognitionStrategy
}

// NewRegistry creates a registry holding the given strategies
func NewRegistry(strategies ...RecognitionStrategy) *Registry {
	r := &Registry{strategies: make(map[Mode]RecognitionStrategy, len(strategies))}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the strategy for its mode
func (r *Registry) Register(s RecognitionStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.GetStrategyName()] = s
}

// Get returns the strategy for mode
func (r *Registry) Get(mode Mode) (RecognitionStrategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[mode]
	return s, ok
}
