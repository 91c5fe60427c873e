package types

import (
	"time"

	"github.com/google/uuid"
)

// NewRecordID generates a UUIDv7 record key.
// Time-ordered IDs keep insertion order stable in storage backends that sort by key.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewRecordID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ParseRecordID validates a caller-supplied record key.
// Rejects malformed UUIDs to prevent invalid keys from entering storage.
func ParseRecordID(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// RecordIDTime extracts the timestamp embedded in a UUIDv7 key.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func RecordIDTime(id string) time.Time {
	u, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
