package evaluator

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/acryl-data/monitors/internal/domain"
)

// minPrevCronIntervalMs is the minimum gap the previous cron fire must sit
// behind "now" before it's accepted as a window boundary; if the most
// recent fire happened too recently, the window is pushed back one
// additional step so a just-started assertion doesn't evaluate an
// effectively-empty window.
const minPrevCronIntervalMs = 30000

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func parseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return sched, nil
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return loc, nil
}

// nextCronFireMs returns the next fire of schedule, in epoch milliseconds,
// relative to now.
func nextCronFireMs(schedule domain.CronSchedule, now time.Time) (int64, error) {
	loc, err := loadLocation(schedule.Timezone)
	if err != nil {
		return 0, err
	}
	sched, err := parseCron(schedule.Cron)
	if err != nil {
		return 0, err
	}
	return sched.Next(now.In(loc)).UnixMilli(), nil
}

// prevCronFireMs returns the most recent fire of schedule strictly before
// now, in epoch milliseconds. robfig/cron only exposes Next, so the
// previous fire is derived by walking forward from a bounded anchor in the
// past and keeping the last fire seen before now. If that fire landed less
// than minPrevCronIntervalMs ago, one further step back is taken.
func prevCronFireMs(schedule domain.CronSchedule, now time.Time) (int64, error) {
	loc, err := loadLocation(schedule.Timezone)
	if err != nil {
		return 0, err
	}
	sched, err := parseCron(schedule.Cron)
	if err != nil {
		return 0, err
	}
	nowLoc := now.In(loc)

	prev, err := walkToPrevFire(sched, nowLoc)
	if err != nil {
		return 0, err
	}

	if nowLoc.Sub(prev) < time.Duration(minPrevCronIntervalMs)*time.Millisecond {
		prev, err = walkToPrevFire(sched, prev)
		if err != nil {
			return 0, err
		}
	}
	return prev.UnixMilli(), nil
}

// walkToPrevFire finds the last fire of sched strictly before `before`,
// anchored up to one year in the past. Schedules with a real fire cadence
// (minute-level and coarser) resolve within a bounded number of steps;
// this is not meant for degenerate schedules with multi-year gaps.
func walkToPrevFire(sched cron.Schedule, before time.Time) (time.Time, error) {
	anchor := before.AddDate(-1, 0, -1)
	t := anchor
	var last time.Time
	for i := 0; i < 600000; i++ {
		next := sched.Next(t)
		if !next.Before(before) {
			if last.IsZero() {
				return time.Time{}, fmt.Errorf("no prior cron fire found within the one-year lookback window")
			}
			return last, nil
		}
		last = next
		t = next
	}
	return time.Time{}, fmt.Errorf("exceeded iteration bound walking cron schedule toward previous fire")
}

// fixedIntervalStartMs computes the start of a fixed-duration window ending
// at endTimeMs.
func fixedIntervalStartMs(endTimeMs int64, schedule domain.FixedIntervalSchedule) (int64, error) {
	unitMs, err := millisecondsForUnit(schedule.Unit)
	if err != nil {
		return 0, err
	}
	return endTimeMs - int64(schedule.Multiple)*unitMs, nil
}
