// Package scheduler runs a job once a day at a fixed wall clock time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/elektrummon/elektrummon/pkg/log"
	"github.com/levenlabs/go-lflag"
)

// Daily fires once per day at Hour:Minute in Location.
type Daily struct {
	Hour     int
	Minute   int
	Location *time.Location

	// RunOnStart also runs the job immediately when Run starts.
	RunOnStart bool

	now      func() time.Time
	newTimer func(d time.Duration) (<-chan time.Time, func() bool)
}

// Configured registers the scheduling flags and returns the Daily they
// describe once lflag.Configure has been called.
func Configured() *Daily {
	d := &Daily{}

	timezone := lflag.String("timezone", "Local", "IANA time zone used to pick the day to fetch and the refresh time")
	at := lflag.String("refresh-at", "10:00", "time of day (HH:MM) to refresh consumption")
	onStart := lflag.Bool("refresh-on-start", false, "refresh every instance once at startup")

	lflag.Do(func() {
		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			panic(fmt.Errorf("invalid timezone %q: %w", *timezone, err))
		}
		d.Location = loc
		d.Hour, d.Minute, err = ParseTimeOfDay(*at)
		if err != nil {
			panic(err)
		}
		d.RunOnStart = *onStart
		if err := d.Validate(); err != nil {
			panic(err)
		}
	})
	return d
}

// ParseTimeOfDay parses a 24-hour "HH:MM" time of day.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Validate checks that the time of day is valid.
func (d *Daily) Validate() error {
	if d.Hour < 0 || d.Hour > 23 {
		return fmt.Errorf("refresh hour must be between 0 and 23: %d", d.Hour)
	}
	if d.Minute < 0 || d.Minute > 59 {
		return fmt.Errorf("refresh minute must be between 0 and 59: %d", d.Minute)
	}
	return nil
}

func (d *Daily) location() *time.Location {
	if d.Location == nil {
		return time.Local
	}
	return d.Location
}

// Next returns the first Hour:Minute strictly after now.
func (d *Daily) Next(now time.Time) time.Time {
	n := now.In(d.location())
	next := time.Date(n.Year(), n.Month(), n.Day(), d.Hour, d.Minute, 0, 0, n.Location())
	if !next.After(n) {
		next = time.Date(n.Year(), n.Month(), n.Day()+1, d.Hour, d.Minute, 0, 0, n.Location())
	}
	return next
}

// Run calls fn at every scheduled time until ctx is canceled. fn is called
// synchronously so a slow job delays the next one instead of overlapping it.
func (d *Daily) Run(ctx context.Context, fn func(ctx context.Context)) {
	now := d.now
	if now == nil {
		now = time.Now
	}
	newTimer := d.newTimer
	if newTimer == nil {
		newTimer = func(dur time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(dur)
			return t.C, t.Stop
		}
	}

	if d.RunOnStart {
		log.Ctx(ctx).InfoContext(ctx, "running job on start")
		fn(ctx)
	}

	for {
		next := d.Next(now())
		log.Ctx(ctx).DebugContext(ctx, "scheduled next run", slog.Time("next", next))
		c, stop := newTimer(next.Sub(now()))
		select {
		case <-ctx.Done():
			stop()
			return
		case <-c:
		}
		log.Ctx(ctx).InfoContext(ctx, "running scheduled job", slog.Time("scheduled", next))
		fn(ctx)
	}
}
