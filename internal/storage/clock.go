package storage

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/xaenox/chief-of-staff/internal/models"
)

// Timestamps are kept at microsecond precision so both backends agree.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// after returns now, or the smallest representable instant after prev when the
// clock has not moved past it.
func after(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Microsecond)
}

func prepareMessage(msg *models.ChatMessage, last time.Time, now time.Time) {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	msg.Timestamp = after(last, stamp(msg.Timestamp))
}
