package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go-captcha-ocr/internal/auth"
	apperrors "go-captcha-ocr/internal/errors"
	"go-captcha-ocr/internal/imaging"
	"go-captcha-ocr/internal/observer"
	"go-captcha-ocr/internal/strategy"
	"go-captcha-ocr/pkg/models"
	"go-captcha-ocr/pkg/validation"
)

// RecognitionService runs the authenticated OCR pipeline for every mode
type RecognitionService interface {
	// Process validates payload, authorizes the session, decodes the image
	// and recognizes it with the strategy registered for mode.
	Process(ctx context.Context, mode strategy.Mode, payload []byte) (*models.OCRResponse, error)

	// RecognizeAnonymous answers a raw base64 body without authentication.
	// It always returns text.
	RecognizeAnonymous(ctx context.Context, base64Image string) string
}

// recognitionService implements RecognitionService
type recognitionService struct {
	validator  *validation.RequestValidator
	gate       auth.Gate
	strategies *strategy.Registry
	anonymous  *strategy.ConsensusStrategy
	events     observer.Subject
}

// NewRecognitionService creates a new recognition service. events may be nil.
func NewRecognitionService(
	requestValidator *validation.RequestValidator,
	gate auth.Gate,
	strategies *strategy.Registry,
	anonymous *strategy.ConsensusStrategy,
	events observer.Subject,
) RecognitionService {
	return &recognitionService{
		validator:  requestValidator,
		gate:       gate,
		strategies: strategies,
		anonymous:  anonymous,
		events:     events,
	}
}

// Process implements the pipeline shared by both OCR routes
func (s *recognitionService) Process(ctx context.Context, mode strategy.Mode, payload []byte) (*models.OCRResponse, error) {
	start := time.Now()
	event := observer.RecognitionEvent{Mode: string(mode)}

	response, err := s.process(ctx, mode, payload, &event)
	s.publish(ctx, event, start, err)
	return response, err
}

func (s *recognitionService) process(ctx context.Context, mode strategy.Mode, payload []byte, event *observer.RecognitionEvent) (*models.OCRResponse, error) {
	recognizer, ok := s.strategies.Get(mode)
	if !ok {
		return nil, apperrors.NewInternalError("recognition mode not configured: "+string(mode), nil)
	}

	req, err := s.validator.Parse(payload)
	if err != nil {
		return nil, err
	}
	if req.DeviceID != nil {
		event.DeviceID = *req.DeviceID
	}
	if req.SessionID != nil && *req.SessionID == auth.UnauthenticatedSession {
		return nil, apperrors.NewAuthError("session is not authenticated")
	}

	fields, err := s.validator.Validate(req)
	if err != nil {
		return nil, err
	}

	if !s.gate.IsAuthorized(ctx, fields.DeviceID, fields.SessionID) {
		if err := requestExpired(ctx); err != nil {
			return nil, err
		}
		return nil, apperrors.NewAuthError("session is not entitled to OCR")
	}

	grid, err := imaging.DecodeBase64(fields.Image)
	if err != nil {
		return nil, err
	}

	outcome, err := recognizer.Recognize(ctx, grid, fields.Charset)
	if err != nil {
		if expired := requestExpired(ctx); expired != nil {
			return nil, expired
		}
		return nil, err
	}

	event.Attempts = outcome.Attempts
	event.Candidates = outcome.Candidates
	event.Fallback = outcome.Fallback
	return &models.OCRResponse{OCRResult: outcome.Text}, nil
}

// requestExpired reports the request deadline passing as a timeout. A
// per-call OCR timeout inside a live request is not a request timeout.
func requestExpired(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.NewTimeoutError("request timed out", ctx.Err())
	}
	return nil
}

// RecognizeAnonymous runs consensus on a raw base64 body
func (s *recognitionService) RecognizeAnonymous(ctx context.Context, base64Image string) string {
	start := time.Now()
	text := s.anonymous.RecognizeBase64(ctx, base64Image)
	s.publish(ctx, observer.RecognitionEvent{Mode: "anonymous"}, start, nil)
	return text
}

func (s *recognitionService) publish(ctx context.Context, event observer.RecognitionEvent, start time.Time, err error) {
	if s.events == nil {
		return
	}

	event.Timestamp = start
	event.ProcessingTime = time.Since(start)

	switch {
	case err == nil:
		event.EventType = observer.RecognitionCompleted
		event.StatusCode = http.StatusOK
	case apperrors.IsType(err, apperrors.ErrorTypeRecognition),
		apperrors.IsType(err, apperrors.ErrorTypeInternal),
		apperrors.IsType(err, apperrors.ErrorTypeTimeout):
		event.EventType = observer.RecognitionFailed
		event.StatusCode = apperrors.GetStatusCode(err)
		event.ErrorMessage = err.Error()
	default:
		event.EventType = observer.RequestRejected
		event.StatusCode = apperrors.GetStatusCode(err)
		event.ErrorMessage = err.Error()
	}
	s.events.NotifyObservers(ctx, event)
}
