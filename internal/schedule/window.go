// Package schedule decides when a template is due and which day it is about.
package schedule

import (
	"time"
	_ "time/tzdata"

	"github.com/jwalitptl/lesson-notifier/internal/model"
)

// WindowMinutes is how long after its scheduled time a template stays sendable.
const WindowMinutes = 15

// DefaultTimezone is the school's local zone.
const DefaultTimezone = "Asia/Tokyo"

// MinutesLate returns how many minutes now's local time of day is past hour:minute.
// Negative values mean the scheduled time has not been reached yet.
func MinutesLate(now time.Time, hour, minute int) int {
	return now.Hour()*60 + now.Minute() - (hour*60 + minute)
}

// InWindow reports whether a template scheduled at hour:minute should fire at
// now. reset bypasses the check.
func InWindow(now time.Time, hour, minute int, reset bool) bool {
	if reset {
		return true
	}
	diff := MinutesLate(now, hour, minute)
	return diff >= 0 && diff < WindowMinutes
}

// StartOfDay returns local midnight of now's day in now's location.
func StartOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// TargetDate returns the calendar date offsetDays after now's local day as a
// DATE value (midnight UTC).
func TargetDate(now time.Time, offsetDays int) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+offsetDays, 0, 0, 0, 0, time.UTC)
}

// NotificationType is the notification type tag for a day offset.
func NotificationType(offsetDays int) string {
	return model.NotificationTypeFor(offsetDays)
}

// LoadLocation resolves name, defaulting to DefaultTimezone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	return time.LoadLocation(name)
}
