package repository

import (
	"context"
	"sync"
	"time"
)

// MemorySessionDirectory is an in-process SessionDirectory, used for local
// runs and tests. Err, when set, is returned by every lookup.
type MemorySessionDirectory struct {
	mu      sync.RWMutex
	records []SessionRecord
	lookups int
	Err     error
}

// NewMemorySessionDirectory creates a directory holding records
func NewMemorySessionDirectory(records ...SessionRecord) *MemorySessionDirectory {
	return &MemorySessionDirectory{records: append([]SessionRecord(nil), records...)}
}

// Add inserts a record
func (m *MemorySessionDirectory) Add(record SessionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
}

// CountActiveSessions counts matching active records
func (m *MemorySessionDirectory) CountActiveSessions(ctx context.Context, deviceID, sessionID string, asOf time.Time) (int, error) {
	m.mu.Lock()
	m.lookups++
	m.mu.Unlock()

	if m.Err != nil {
		return 0, m.Err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, r := range m.records {
		if r.DeviceID == deviceID && r.SessionID == sessionID && r.Active(asOf) {
			count++
		}
	}
	return count, nil
}

// Lookups returns how many lookups were made
func (m *MemorySessionDirectory) Lookups() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookups
}

// Ping always succeeds unless Err is set
func (m *MemorySessionDirectory) Ping(ctx context.Context) error {
	return m.Err
}

// Close is a no-op
func (m *MemorySessionDirectory) Close() error {
	return nil
}
