package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard five-field specs, an optional leading seconds
// field, and descriptors such as @hourly, @daily and @every 30m.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CronSchedule evaluates a cron spec in a fixed location.
type CronSchedule struct {
	spec     string
	schedule cron.Schedule
	location *time.Location
}

// ParseSchedule parses spec and evaluates it in loc (UTC when nil).
func ParseSchedule(spec string, loc *time.Location) (*CronSchedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("%w: empty spec", ErrInvalidSchedule)
	}
	if loc == nil {
		loc = time.UTC
	}

	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, spec, err)
	}
	return &CronSchedule{spec: spec, schedule: sched, location: loc}, nil
}

// Next implements Schedule.
func (c *CronSchedule) Next(t time.Time) time.Time {
	return c.schedule.Next(t.In(c.location))
}

// String implements Schedule.
func (c *CronSchedule) String() string {
	return c.spec
}
