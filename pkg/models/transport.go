package models

// OCRRequest is the JSON envelope accepted by the OCR routes. Pointer fields
// let validation tell an absent key from an empty value.
type OCRRequest struct {
	DeviceID  *string `json:"device_id" validate:"required,min=1"`
	SessionID *string `json:"session_id" validate:"required,min=1"`
	Image     *string `json:"image" validate:"required,min=1"`
	// Charset optionally restricts the characters the charset-constrained
	// route may return.
	Charset *string `json:"charset,omitempty"`
}

// RequestFields holds the validated required fields
type RequestFields struct {
	DeviceID  string
	SessionID string
	Image     string
	Charset   string
}

// OCRResponse is returned on successful recognition
type OCRResponse struct {
	OCRResult string `json:"ocr_result"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message,omitempty"`
	Fields  []string `json:"fields,omitempty"`
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Time      string `json:"time"`
	Directory string `json:"directory"`
}
