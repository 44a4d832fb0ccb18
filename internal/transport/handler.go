package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go-captcha-ocr/internal/config"
	apperrors "go-captcha-ocr/internal/errors"
	"go-captcha-ocr/internal/logger"
	"go-captcha-ocr/internal/repository"
	"go-captcha-ocr/internal/service"
	"go-captcha-ocr/internal/strategy"
	"go-captcha-ocr/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// MetricsRegistry is what the handler needs to expose and record metrics
type MetricsRegistry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// NewHandler builds the HTTP surface. directory may be nil.
func NewHandler(svc service.RecognitionService, directory repository.SessionDirectory, reg MetricsRegistry, cfg *config.Config) http.Handler {
	r := gin.New()

	r.Use(
		gin.CustomRecovery(recoverPanic),
		requestID(),
		requestLogger(),
		requestMetrics(reg),
		requestSizeLimiter(cfg.MaxRequestBodySize),
	)

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Working")
	})
	r.GET("/health", healthCheck(directory, cfg.DirectoryTimeout))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	r.POST("/ocr/b64", recognize(svc, strategy.ModeConsensus, cfg.AllowAnonymousRaw, cfg.RequestTimeout))
	r.POST("/ocr/b64/eng", recognize(svc, strategy.ModeCharset, false, cfg.RequestTimeout))

	return r
}

func recognize(svc service.RecognitionService, mode strategy.Mode, allowRaw bool, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				appErr := apperrors.NewValidationError("request body too large", err)
				appErr.StatusCode = http.StatusRequestEntityTooLarge
				respondError(c, appErr)
				return
			}
			respondError(c, apperrors.NewValidationError("failed to read request body", err))
			return
		}

		// Only an explicit text/plain body reaches the unauthenticated
		// variant. Everything else goes through the gate.
		if allowRaw && c.ContentType() == gin.MIMEPlain {
			raw := strings.TrimSpace(string(body))
			switch {
			case raw == "":
				c.String(http.StatusBadRequest, "No image data provided")
			case strings.HasPrefix(raw, "{"):
				c.String(http.StatusBadRequest, "Raw body must be base64 image data")
			default:
				c.String(http.StatusOK, svc.RecognizeAnonymous(ctx, raw))
			}
			return
		}

		resp, err := svc.Process(ctx, mode, body)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func healthCheck(directory repository.SessionDirectory, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "not configured"
		if directory != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
			defer cancel()

			status = "up"
			if err := directory.Ping(ctx); err != nil {
				logger.WithError(err).Warn("Session directory ping failed")
				status = "down"
			}
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:    "available",
			Version:   Version,
			Time:      time.Now().UTC().Format(time.RFC3339),
			Directory: status,
		})
	}
}

// Middleware and helper functions
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"request_id":         c.GetString(requestIDKey),
			"method":             c.Request.Method,
			"path":               c.Request.URL.Path,
			"status":             c.Writer.Status(),
			"ip":                 c.ClientIP(),
			"user_agent":         c.Request.UserAgent(),
			"processing_time_ms": time.Since(start).Milliseconds(),
		}).Info("Request handled")
	}
}

func requestMetrics(reg prometheus.Registerer) gin.HandlerFunc {
	factory := promauto.With(reg)
	requests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "captcha_ocr",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code",
	}, []string{"route", "method", "code"})
	duration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "captcha_ocr",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		duration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

func recoverPanic(c *gin.Context, recovered any) {
	logger.WithFields(logrus.Fields{
		"panic":  recovered,
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
	}).Error("Recovered from panic")

	respondError(c, apperrors.NewInternalError("internal server error", nil))
}

func respondError(c *gin.Context, err error) {
	appErr := apperrors.AsAppError(err)
	code := appErr.StatusCode

	// Log the error with context
	entry := logger.WithError(err).WithFields(logrus.Fields{
		"request_id":  c.GetString(requestIDKey),
		"status_code": code,
		"error_type":  appErr.Type,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: appErr.Message,
		Fields:  appErr.Fields,
	})
}
