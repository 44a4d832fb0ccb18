package container

import (
	"errors"
	"fmt"
	"net/http"

	"go-captcha-ocr/internal/auth"
	"go-captcha-ocr/internal/config"
	"go-captcha-ocr/internal/imaging"
	"go-captcha-ocr/internal/logger"
	"go-captcha-ocr/internal/observer"
	"go-captcha-ocr/internal/ocr"
	"go-captcha-ocr/internal/repository"
	"go-captcha-ocr/internal/service"
	"go-captcha-ocr/internal/strategy"
	"go-captcha-ocr/internal/transport"
	"go-captcha-ocr/pkg/validation"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Container holds all application dependencies
type Container struct {
	config             *config.Config
	classifier         ocr.Classifier
	directory          repository.SessionDirectory
	registry           *prometheus.Registry
	recognitionService service.RecognitionService
	handler            http.Handler
}

// NewContainer creates a new dependency injection container backed by
// Tesseract and the PostgreSQL session directory
func NewContainer(cfg *config.Config) (*Container, error) {
	classifier, err := ocr.NewTesseractClassifier(cfg.OCRLanguage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OCR engine: %w", err)
	}

	directory, err := repository.OpenPostgresSessionDirectory(cfg.DSN(), cfg.SessionTable)
	if err != nil {
		classifier.Close()
		return nil, fmt.Errorf("failed to open session directory: %w", err)
	}

	c, err := build(cfg, classifier, directory)
	if err != nil {
		directory.Close()
		classifier.Close()
		return nil, err
	}
	return c, nil
}

// build wires the dependency graph around an OCR engine and a directory
func build(cfg *config.Config, classifier ocr.Classifier, directory repository.SessionDirectory) (*Container, error) {
	imaging.SetMaxPixels(cfg.MaxImagePixels)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics, err := observer.NewMetricsObserver(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	publisher := observer.NewEventPublisher()
	publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))
	publisher.Subscribe(metrics)

	options := ocr.DefaultOptions().
		WithSchedule(cfg.ConsensusStartThreshold, cfg.ConsensusStep, cfg.ConsensusAttempts).
		WithAttemptTimeout(cfg.OCRTimeout)

	consensus := strategy.NewConsensusStrategy(ocr.NewConsensusEngine(classifier, options))
	strategies := strategy.NewRegistry(
		consensus,
		strategy.NewCharsetStrategy(ocr.NewCharsetDecoder(classifier, cfg.OCRTimeout), ocr.LowercaseCharset),
	)

	recognitionService := service.NewRecognitionService(
		validation.NewRequestValidator(),
		auth.NewSessionGate(directory, cfg.DirectoryTimeout),
		strategies,
		consensus,
		publisher,
	)

	return &Container{
		config:             cfg,
		classifier:         classifier,
		directory:          directory,
		registry:           registry,
		recognitionService: recognitionService,
		handler:            transport.NewHandler(recognitionService, directory, registry, cfg),
	}, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Close releases the OCR engine and the directory pool
func (c *Container) Close() error {
	return errors.Join(c.classifier.Close(), c.directory.Close())
}
