package observer

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go-captcha-ocr/internal/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// RecognitionEvent describes the outcome of one OCR request
type RecognitionEvent struct {
	EventType      EventType     `json:"event_type"`
	Mode           string        `json:"mode"`
	Timestamp      time.Time     `json:"timestamp"`
	DeviceID       string        `json:"device_id,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
	StatusCode     int           `json:"status_code"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	Attempts       int           `json:"attempts,omitempty"`
	Candidates     int           `json:"candidates,omitempty"`
	Fallback       bool          `json:"fallback,omitempty"`
}

// EventType represents the type of recognition event
type EventType string

const (
	// RecognitionCompleted when text was returned to the caller
	RecognitionCompleted EventType = "recognition_completed"
	// RecognitionFailed when the OCR engine could not produce text
	RecognitionFailed EventType = "recognition_failed"
	// RequestRejected when validation, authorization or decoding failed
	RequestRejected EventType = "request_rejected"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event RecognitionEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event RecognitionEvent)
}

// LoggingObserver logs recognition events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles recognition events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event RecognitionEvent) {
	fields := logrus.Fields{
		"event_type":         event.EventType,
		"mode":               event.Mode,
		"device_id":          event.DeviceID,
		"processing_time_ms": event.ProcessingTime.Milliseconds(),
		"status_code":        event.StatusCode,
	}

	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	if event.Attempts > 0 {
		fields["attempts"] = event.Attempts
		fields["candidates"] = event.Candidates
		fields["fallback"] = event.Fallback
	}

	switch event.EventType {
	case RecognitionCompleted:
		o.logger.WithFields(fields).Info("Recognition completed")
	case RecognitionFailed:
		o.logger.WithFields(fields).Error("Recognition failed")
	case RequestRejected:
		o.logger.WithFields(fields).Warn("Request rejected")
	default:
		o.logger.WithFields(fields).Info("Recognition event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver exports recognition events as Prometheus metrics
type MetricsObserver struct {
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	fallbacks  prometheus.Counter
	candidates prometheus.Histogram
}

// NewMetricsObserver creates a metrics observer registered on reg
func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	o := &MetricsObserver{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "captcha_ocr",
			Name:      "requests_total",
			Help:      "OCR requests by mode, event type and status code",
		}, []string{"mode", "event", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "captcha_ocr",
			Name:      "request_duration_seconds",
			Help:      "OCR request processing time in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"mode"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "captcha_ocr",
			Subsystem: "consensus",
			Name:      "fallbacks_total",
			Help:      "Consensus runs answered with a random fallback",
		}),
		candidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "captcha_ocr",
			Subsystem: "consensus",
			Name:      "valid_candidates",
			Help:      "Valid candidates collected per consensus run",
			Buckets:   prometheus.LinearBuckets(0, 1, 8),
		}),
	}

	for _, c := range []prometheus.Collector{o.requests, o.duration, o.fallbacks, o.candidates} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// OnEvent handles recognition events by updating metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event RecognitionEvent) {
	o.requests.WithLabelValues(event.Mode, string(event.EventType), strconv.Itoa(event.StatusCode)).Inc()
	o.duration.WithLabelValues(event.Mode).Observe(event.ProcessingTime.Seconds())

	if event.Attempts > 0 {
		o.candidates.Observe(float64(event.Candidates))
		if event.Fallback {
			o.fallbacks.Inc()
		}
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers delivers event to every observer in subscription order.
// A panicking observer is logged and skipped.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event RecognitionEvent) {
	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		func(obs Observer) {
			defer func() {
				if r := recover(); r != nil {
					logger.WithFields(logrus.Fields{
						"observer": obs.GetObserverName(),
						"panic":    r,
					}).Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}
