package model

import (
	"fmt"
	"time"
)

// Label is the status banner text for s. Connected has no banner.
func (s ConnectionState) Label() string {
	switch s {
	case StateConnected:
		return ""
	case StateConnecting:
		return "Connecting..."
	case StateError:
		return "Connection error"
	case StateOffline:
		return "Offline"
	default:
		return "Unknown status"
	}
}

// FormatTime renders an ISO-8601 timestamp relative to now, in now's location.
func FormatTime(iso string, now time.Time) string {
	if iso == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339Nano, iso)
	if err != nil {
		return ""
	}
	t = t.In(now.Location())

	clock := fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
	switch {
	case sameDay(t, now):
		return clock
	case sameDay(t, now.AddDate(0, 0, -1)):
		return "Yesterday " + clock
	case t.Year() == now.Year():
		return fmt.Sprintf("%02d/%02d %s", t.Day(), int(t.Month()), clock)
	default:
		return fmt.Sprintf("%02d/%02d/%d %s", t.Day(), int(t.Month()), t.Year(), clock)
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
