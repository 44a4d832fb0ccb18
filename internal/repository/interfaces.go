package repository

import (
	"context"
	"time"
)

// SessionDirectory defines the lookups the service needs from the external
// store of (device, session) subscription records
type SessionDirectory interface {
	// CountActiveSessions returns how many records match deviceID and
	// sessionID with a subscription date on or after asOf.
	CountActiveSessions(ctx context.Context, deviceID, sessionID string, asOf time.Time) (int, error)

	// Ping checks that the directory is reachable
	Ping(ctx context.Context) error

	// Close releases the directory's resources
	Close() error
}

// SessionRecord mirrors one row of the session directory
type SessionRecord struct {
	DeviceID         string    `json:"device_id"`
	SessionID        string    `json:"session_id"`
	SubscriptionDate time.Time `json:"subscription_date"`
}

// Active reports whether the record entitles its owner to OCR on day asOf.
func (r SessionRecord) Active(asOf time.Time) bool {
	return !truncateToDay(r.SubscriptionDate).Before(truncateToDay(asOf))
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
