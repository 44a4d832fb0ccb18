package auth

import (
	"context"
	"time"

	"go-captcha-ocr/internal/logger"
	"go-captcha-ocr/internal/repository"

	"github.com/sirupsen/logrus"
)

// UnauthenticatedSession is the session id clients send before logging in.
// It is never entitled to OCR.
const UnauthenticatedSession = "0"

// Gate decides whether a (device, session) pair may use OCR
type Gate interface {
	IsAuthorized(ctx context.Context, deviceID, sessionID string) bool
}

// SessionGate checks entitlement against the session directory and denies
// on any doubt.
type SessionGate struct {
	directory repository.SessionDirectory
	timeout   time.Duration
	now       func() time.Time
}

// NewSessionGate creates a gate; timeout bounds each directory lookup.
func NewSessionGate(directory repository.SessionDirectory, timeout time.Duration) *SessionGate {
	return &SessionGate{
		directory: directory,
		timeout:   timeout,
		now:       time.Now,
	}
}

// IsAuthorized reports whether exactly one active subscription record
// matches the pair. Directory failures deny access.
func (g *SessionGate) IsAuthorized(ctx context.Context, deviceID, sessionID string) bool {
	if sessionID == UnauthenticatedSession {
		return false
	}
	if g.directory == nil {
		logger.Warn("Session directory not configured, denying access")
		return false
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	count, err := g.directory.CountActiveSessions(ctx, deviceID, sessionID, g.now())
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"device_id": deviceID,
		}).Warn("Session lookup failed, denying access")
		return false
	}
	return count == 1
}
