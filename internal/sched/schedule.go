package sched

import (
	"time"

	"macro-service/internal/engine"

	"github.com/robfig/cron/v3"
)

// The cron runner owns timing; these cron.Schedule implementations defer to
// the pure next-fire functions so the arithmetic stays testable.

type dailySchedule struct {
	at engine.TimeOfDay
}

func (s dailySchedule) Next(t time.Time) time.Time {
	return NextDaily(t, s.at)
}

type weeklySchedule struct {
	weekdays []int
	at       engine.TimeOfDay
}

func (s weeklySchedule) Next(t time.Time) time.Time {
	return NextWeekly(t, s.weekdays, s.at)
}

// onceSchedule fires a single time; afterwards Next returns the zero time
// and the cron runner drops the entry.
type onceSchedule struct {
	at time.Time
}

func (s onceSchedule) Next(t time.Time) time.Time {
	if s.at.After(t) {
		return s.at
	}
	return time.Time{}
}

type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.every)
}

// scheduleFor builds the cron.Schedule for a validated time trigger config.
// Returns nil when the trigger can never fire again (past one-shot).
func scheduleFor(cfg engine.TimeTriggerConfig, now time.Time) cron.Schedule {
	switch cfg.Mode {
	case "once":
		at, ok := NextOnce(now, cfg.Timestamp)
		if !ok {
			return nil
		}
		return onceSchedule{at: at}
	case "daily":
		if cfg.DailyTime == nil {
			return nil
		}
		return dailySchedule{at: *cfg.DailyTime}
	case "weekly":
		if cfg.WeeklyTime == nil {
			return nil
		}
		return weeklySchedule{weekdays: cfg.WeeklyTime.Weekdays, at: cfg.WeeklyTime.TimeOfDay}
	case "interval":
		if cfg.IntervalMinutes <= 0 {
			return nil
		}
		return intervalSchedule{every: time.Duration(cfg.IntervalMinutes) * time.Minute}
	default:
		return nil
	}
}
