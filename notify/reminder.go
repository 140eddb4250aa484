package notify

import (
	"encoding/json"
	"time"
)

// reminderPayload is the persisted reminder preference report.
type reminderPayload struct {
	ReminderTime *string `json:"reminderTime"`
	NoReminder   *bool   `json:"noReminder"`
}

// reminderTimeLayouts are the accepted encodings of the reminder time. The
// sync layer historically stored a full timestamp; newer clients store just
// the wall-clock time.
var reminderTimeLayouts = []string{time.RFC3339, "15:04:05", "15:04"}

// DecodeReminder extracts the reminder time of day from a preference report
// payload. The second return is false when no reminder is configured: the
// payload is absent, malformed, flagged noReminder, or has no parseable time.
// Malformed payloads are deliberately not an error.
func DecodeReminder(data []byte) (TimeOfDay, bool) {
	if len(data) == 0 {
		return TimeOfDay{}, false
	}

	var p reminderPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return TimeOfDay{}, false
	}
	if p.NoReminder != nil && *p.NoReminder {
		return TimeOfDay{}, false
	}
	if p.ReminderTime == nil {
		return TimeOfDay{}, false
	}

	for _, layout := range reminderTimeLayouts {
		if t, err := time.Parse(layout, *p.ReminderTime); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, true
		}
	}
	return TimeOfDay{}, false
}

// EncodeReminder builds the preference report payload.
func EncodeReminder(t TimeOfDay, noReminder bool) []byte {
	s := time.Date(0, 1, 1, t.Hour, t.Minute, 0, 0, time.UTC).Format("15:04")
	p := reminderPayload{ReminderTime: &s, NoReminder: &noReminder}
	data, _ := json.Marshal(p)
	return data
}
