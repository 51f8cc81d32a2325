package sched

import (
	"time"

	"macro-service/internal/engine"
)

// NextDaily returns the next occurrence of the given time of day after now:
// today if the wall time has not passed yet, otherwise tomorrow.
func NextDaily(now time.Time, t engine.TimeOfDay) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour, t.Minute, t.Second, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// NextWeekly returns the nearest occurrence among the given weekdays
// (0=Sunday..6=Saturday). A matching weekday whose wall time already passed
// today rolls a full week forward. Returns the zero time when no weekday is
// valid.
func NextWeekly(now time.Time, weekdays []int, t engine.TimeOfDay) time.Time {
	minDays := -1
	today := int(now.Weekday())
	for _, wd := range weekdays {
		if wd < 0 || wd > 6 {
			continue
		}
		days := (wd - today + 7) % 7
		if days == 0 {
			sameDay := time.Date(now.Year(), now.Month(), now.Day(), t.Hour, t.Minute, t.Second, 0, now.Location())
			if !sameDay.After(now) {
				days = 7
			}
		}
		if minDays < 0 || days < minDays {
			minDays = days
		}
	}
	if minDays < 0 {
		return time.Time{}
	}
	base := now.AddDate(0, 0, minDays)
	return time.Date(base.Year(), base.Month(), base.Day(), t.Hour, t.Minute, t.Second, 0, now.Location())
}

// NextOnce returns the fire time for a one-shot trigger and whether it is
// still in the future.
func NextOnce(now time.Time, unixMillis int64) (time.Time, bool) {
	at := time.UnixMilli(unixMillis)
	return at, at.After(now)
}

// NextInterval returns the next fire for a fixed repeat interval.
func NextInterval(now time.Time, minutes int) time.Time {
	if minutes <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(minutes) * time.Minute)
}
