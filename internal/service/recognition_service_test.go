package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-captcha-ocr/internal/auth"
	apperrors "go-captcha-ocr/internal/errors"
	"go-captcha-ocr/internal/observer"
	"go-captcha-ocr/internal/ocr"
	"go-captcha-ocr/internal/ocr/ocrtest"
	"go-captcha-ocr/internal/repository"
	"go-captcha-ocr/internal/strategy"
	"go-captcha-ocr/pkg/validation"
)

type capturingObserver struct {
	mu     sync.Mutex
	events []observer.RecognitionEvent
}

func (c *capturingObserver) OnEvent(ctx context.Context, event observer.RecognitionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *capturingObserver) GetObserverName() string { return "capturing" }

func (c *capturingObserver) last() observer.RecognitionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

type fixture struct {
	service    RecognitionService
	classifier *ocrtest.Classifier
	directory  *repository.MemorySessionDirectory
	events     *capturingObserver
}

func newFixture() *fixture {
	classifier := &ocrtest.Classifier{Text: "42"}
	directory := repository.NewMemorySessionDirectory(repository.SessionRecord{
		DeviceID:         "dev-1",
		SessionID:        "s-1",
		SubscriptionDate: time.Now().Add(24 * time.Hour),
	})

	consensus := strategy.NewConsensusStrategy(ocr.NewConsensusEngine(classifier, ocr.DefaultOptions()))
	registry := strategy.NewRegistry(
		consensus,
		strategy.NewCharsetStrategy(ocr.NewCharsetDecoder(classifier, time.Second), ocr.LowercaseCharset),
	)

	events := &capturingObserver{}
	publisher := observer.NewEventPublisher()
	publisher.Subscribe(events)

	return &fixture{
		service: NewRecognitionService(
			validation.NewRequestValidator(),
			auth.NewSessionGate(directory, time.Second),
			registry,
			consensus,
			publisher,
		),
		classifier: classifier,
		directory:  directory,
		events:     events,
	}
}

func pngBase64(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 6, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 6; x++ {
			img.Set(x, y, color.NRGBA{R: 30, G: 40, B: 220, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func payload(t *testing.T, fields map[string]string) []byte {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return data
}

func TestProcess_CharsetScenario(t *testing.T) {
	f := newFixture()
	f.classifier.Matrix = ocrtest.OneHot(27, 3, 14, 6)

	resp, err := f.service.Process(context.Background(), strategy.ModeCharset, payload(t, map[string]string{
		"device_id":  "dev-1",
		"session_id": "s-1",
		"image":      pngBase64(t),
	}))
	require.NoError(t, err)
	assert.Equal(t, "dog", resp.OCRResult)

	event := f.events.last()
	assert.Equal(t, observer.RecognitionCompleted, event.EventType)
	assert.Equal(t, http.StatusOK, event.StatusCode)
	assert.Equal(t, "dev-1", event.DeviceID)
}

func TestProcess_ConsensusScenario(t *testing.T) {
	f := newFixture()

	resp, err := f.service.Process(context.Background(), strategy.ModeConsensus, payload(t, map[string]string{
		"device_id":  "dev-1",
		"session_id": "s-1",
		"image":      pngBase64(t),
	}))
	require.NoError(t, err)
	assert.Equal(t, "42", resp.OCRResult)
	assert.Equal(t, 5, f.classifier.Calls())

	event := f.events.last()
	assert.Equal(t, 5, event.Attempts)
	assert.Equal(t, 5, event.Candidates)
	assert.False(t, event.Fallback)
}

func TestProcess_SentinelSessionForbidden(t *testing.T) {
	payloads := []map[string]string{
		{"device_id": "dev-1", "session_id": "0", "image": "aGk="},
		{"session_id": "0"},
		{"device_id": "", "session_id": "0", "image": ""},
	}

	for _, p := range payloads {
		f := newFixture()
		for _, mode := range []strategy.Mode{strategy.ModeConsensus, strategy.ModeCharset} {
			_, err := f.service.Process(context.Background(), mode, payload(t, p))
			require.Error(t, err)
			assert.Equal(t, http.StatusForbidden, apperrors.GetStatusCode(err))
		}
		assert.Equal(t, 0, f.directory.Lookups())
		assert.Equal(t, 0, f.classifier.Calls())
		assert.Equal(t, observer.RequestRejected, f.events.last().EventType)
	}
}

func TestProcess_MissingImageHasDistinctStatus(t *testing.T) {
	f := newFixture()

	_, imageErr := f.service.Process(context.Background(), strategy.ModeConsensus, payload(t, map[string]string{
		"device_id":  "dev-1",
		"session_id": "s-1",
	}))
	_, allErr := f.service.Process(context.Background(), strategy.ModeConsensus, []byte(`{}`))

	require.Error(t, imageErr)
	require.Error(t, allErr)
	assert.Equal(t, http.StatusPaymentRequired, apperrors.GetStatusCode(imageErr))
	assert.Equal(t, http.StatusBadRequest, apperrors.GetStatusCode(allErr))
	assert.NotEqual(t, apperrors.GetStatusCode(imageErr), apperrors.GetStatusCode(allErr))
	assert.Equal(t, []string{"device_id", "session_id", "image"}, apperrors.AsAppError(allErr).Fields)
}

func TestProcess_CorruptImageSkipsOCR(t *testing.T) {
	for _, mode := range []strategy.Mode{strategy.ModeConsensus, strategy.ModeCharset} {
		f := newFixture()

		_, err := f.service.Process(context.Background(), mode, payload(t, map[string]string{
			"device_id":  "dev-1",
			"session_id": "s-1",
			"image":      "%%%not-base64%%%",
		}))
		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, apperrors.GetStatusCode(err))
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDecode))
		assert.Equal(t, 1, f.directory.Lookups())
		assert.Equal(t, 0, f.classifier.Calls())
	}
}

func TestProcess_UnknownSessionForbidden(t *testing.T) {
	f := newFixture()

	_, err := f.service.Process(context.Background(), strategy.ModeConsensus, payload(t, map[string]string{
		"device_id":  "dev-1",
		"session_id": "other",
		"image":      pngBase64(t),
	}))
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, apperrors.GetStatusCode(err))
	assert.Equal(t, 0, f.classifier.Calls())
}

func TestProcess_DirectoryDownFailsClosed(t *testing.T) {
	f := newFixture()
	f.directory.Err = errors.New("connection refused")

	_, err := f.service.Process(context.Background(), strategy.ModeCharset, payload(t, map[string]string{
		"device_id":  "dev-1",
		"session_id": "s-1",
		"image":      pngBase64(t),
	}))
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, apperrors.GetStatusCode(err))
}

func TestProcess_RecognitionFailureModes(t *testing.T) {
	body := func(t *testing.T) []byte {
		return payload(t, map[string]string{
			"device_id":  "dev-1",
			"session_id": "s-1",
			"image":      pngBase64(t),
		})
	}

	f := newFixture()
	f.classifier.Err = errors.New("engine down")

	resp, err := f.service.Process(context.Background(), strategy.ModeConsensus, body(t))
	require.NoError(t, err, "consensus hides engine failures")
	assert.True(t, ocr.IsValidCandidate(resp.OCRResult))
	assert.True(t, f.events.last().Fallback)

	_, err = f.service.Process(context.Background(), strategy.ModeCharset, body(t))
	require.Error(t, err, "charset mode surfaces engine failures")
	assert.Equal(t, http.StatusNotImplemented, apperrors.GetStatusCode(err))
	assert.Equal(t, observer.RecognitionFailed, f.events.last().EventType)
}

func TestProcess_UnregisteredMode(t *testing.T) {
	f := newFixture()

	_, err := f.service.Process(context.Background(), strategy.Mode("handwriting"), []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, apperrors.GetStatusCode(err))
}

func TestRecognizeAnonymous(t *testing.T) {
	f := newFixture()

	assert.Equal(t, "42", f.service.RecognizeAnonymous(context.Background(), pngBase64(t)))
	assert.Equal(t, 0, f.directory.Lookups())

	text := f.service.RecognizeAnonymous(context.Background(), "garbage")
	assert.True(t, ocr.IsValidCandidate(text))
	assert.Equal(t, "anonymous", f.events.last().Mode)
}

type allowAll struct{}

func (allowAll) IsAuthorized(ctx context.Context, deviceID, sessionID string) bool { return true }

func expiredContext(t *testing.T) context.Context {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	t.Cleanup(cancel)
	return ctx
}

func TestProcess_RequestDeadline(t *testing.T) {
	body := func(t *testing.T) []byte {
		return payload(t, map[string]string{
			"device_id":  "dev-1",
			"session_id": "s-1",
			"image":      pngBase64(t),
		})
	}

	t.Run("during directory lookup", func(t *testing.T) {
		f := newFixture()

		_, err := f.service.Process(expiredContext(t), strategy.ModeCharset, body(t))
		require.Error(t, err)
		assert.Equal(t, http.StatusGatewayTimeout, apperrors.GetStatusCode(err))
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeTimeout))
		assert.Equal(t, 0, f.classifier.Calls())
		assert.Equal(t, observer.RecognitionFailed, f.events.last().EventType)
	})

	t.Run("during charset recognition", func(t *testing.T) {
		classifier := &ocrtest.Classifier{Matrix: ocrtest.OneHot(27, 0)}
		registry := strategy.NewRegistry(
			strategy.NewCharsetStrategy(ocr.NewCharsetDecoder(classifier, time.Second), ocr.LowercaseCharset),
		)
		svc := NewRecognitionService(validation.NewRequestValidator(), allowAll{}, registry, nil, nil)

		_, err := svc.Process(expiredContext(t), strategy.ModeCharset, body(t))
		require.Error(t, err)
		assert.Equal(t, http.StatusGatewayTimeout, apperrors.GetStatusCode(err))
	})

	t.Run("sentinel stays forbidden", func(t *testing.T) {
		f := newFixture()

		_, err := f.service.Process(expiredContext(t), strategy.ModeCharset, payload(t, map[string]string{"session_id": "0"}))
		require.Error(t, err)
		assert.Equal(t, http.StatusForbidden, apperrors.GetStatusCode(err))
	})
}

func TestProcess_OCRCallTimeoutIsRecognitionFailure(t *testing.T) {
	classifier := &ocrtest.Classifier{Err: context.DeadlineExceeded}
	registry := strategy.NewRegistry(
		strategy.NewCharsetStrategy(ocr.NewCharsetDecoder(classifier, time.Second), ocr.LowercaseCharset),
	)
	svc := NewRecognitionService(validation.NewRequestValidator(), allowAll{}, registry, nil, nil)

	_, err := svc.Process(context.Background(), strategy.ModeCharset, payload(t, map[string]string{
		"device_id":  "dev-1",
		"session_id": "s-1",
		"image":      pngBase64(t),
	}))
	require.Error(t, err)
	assert.Equal(t, http.StatusNotImplemented, apperrors.GetStatusCode(err))
}
