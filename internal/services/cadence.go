package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultCadence is used when neither the schedule nor the configuration names one.
const DefaultCadence = "@every 1h"

var cadenceParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Clock is injected wherever wall time matters.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the UTC wall clock.
func SystemClock() Clock { return systemClock{} }

// ParseCadence accepts a 5-field cron expression or a descriptor
// ("@every 15m", "@hourly", "@daily", ...).
func ParseCadence(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty cadence")
	}
	schedule, err := cadenceParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cadence %q: %w", expr, err)
	}
	return schedule, nil
}

// ComputeNextRun returns the first activation of cadence strictly after now.
// Cron fields are read in now's location unless the expression carries a
// CRON_TZ= prefix.
func ComputeNextRun(cadence string, now time.Time) (time.Time, error) {
	schedule, err := ParseCadence(cadence)
	if err != nil {
		return time.Time{}, err
	}
	if spec, ok := schedule.(*cron.SpecSchedule); ok && !hasZonePrefix(cadence) {
		spec.Location = now.Location()
	}
	next := schedule.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cadence %q has no future activation", cadence)
	}
	return next, nil
}

func hasZonePrefix(expr string) bool {
	expr = strings.TrimSpace(expr)
	return strings.HasPrefix(expr, "CRON_TZ=") || strings.HasPrefix(expr, "TZ=")
}
