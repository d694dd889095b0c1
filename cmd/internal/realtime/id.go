package realtime

import (
	"time"

	"motionhub/cmd/identity/ids"
)

// NewSessionID returns a ULID used as websocket session id and log correlation key.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
