package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "go-captcha-ocr/internal/errors"
	"go-captcha-ocr/pkg/models"
)

// RequestValidator extracts the required fields from OCR request payloads
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a validator that reports fields by JSON name
func NewRequestValidator() *RequestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{validate: v}
}

// Extract parses and validates payload in one step
func (v *RequestValidator) Extract(payload []byte) (*models.RequestFields, error) {
	req, err := v.Parse(payload)
	if err != nil {
		return nil, err
	}
	return v.Validate(req)
}

// Parse decodes payload without checking required fields. An empty body
// parses to a request with every field absent.
func (v *RequestValidator) Parse(payload []byte) (*models.OCRRequest, error) {
	req := &models.OCRRequest{}
	if len(bytes.TrimSpace(payload)) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(payload, req); err != nil {
		return nil, apperrors.NewValidationError("invalid request format", err)
	}
	return req, nil
}

// Validate reports every absent or empty required field in a single error.
// An absent image key on an otherwise complete request gets its own status.
func (v *RequestValidator) Validate(req *models.OCRRequest) (*models.RequestFields, error) {
	if err := v.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, apperrors.NewInternalError("request validation failed", err)
		}

		var fields, absent, empty []string
		for _, fe := range verrs {
			name := fe.Field()
			fields = append(fields, name)
			if isAbsent(req, name) {
				absent = append(absent, name)
			} else {
				empty = append(empty, name)
			}
		}

		if len(absent) == 1 && len(empty) == 0 && absent[0] == "image" {
			return nil, apperrors.NewMissingImageError()
		}

		appErr := apperrors.NewMissingFieldsError(fields)
		appErr.Details = describe(absent, empty)
		return nil, appErr
	}

	fields := &models.RequestFields{
		DeviceID:  *req.DeviceID,
		SessionID: *req.SessionID,
		Image:     *req.Image,
	}
	if req.Charset != nil {
		fields.Charset = *req.Charset
	}
	return fields, nil
}

func isAbsent(req *models.OCRRequest, field string) bool {
	switch field {
	case "device_id":
		return req.DeviceID == nil
	case "session_id":
		return req.SessionID == nil
	case "image":
		return req.Image == nil
	}
	return false
}

func describe(absent, empty []string) string {
	var parts []string
	if len(absent) > 0 {
		parts = append(parts, "absent: "+strings.Join(absent, ", "))
	}
	if len(empty) > 0 {
		parts = append(parts, "empty: "+strings.Join(empty, ", "))
	}
	return strings.Join(parts, "; ")
}
