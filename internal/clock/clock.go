// Package clock maps (frequency, last run, now) to a due/not-due
// decision and a computed next-run instant. It is deliberately pure: no
// package-level clock singleton, no hidden time source. Callers supply
// "now" explicitly, following the injected-dependency discipline used
// throughout this repository (see DESIGN.md).
package clock

import (
	"fmt"
	"time"

	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

// graceMargin absorbs cron jitter: the external timer fires at ~60s
// cadence, so without some slack a task could slip a full period whenever
// the trigger runs a few seconds late. Fixed at 5s per spec.md; this is
// a deliberate design choice, not an inferred one (see DESIGN.md, Open
// Question resolutions).
const graceMargin = 5 * time.Second

// canonicalIntervals maps each Frequency to its nominal period.
var canonicalIntervals = map[taskdef.Frequency]time.Duration{
	taskdef.FrequencyEveryMinute: time.Minute,
	taskdef.FrequencyEvery5Min:   5 * time.Minute,
	taskdef.FrequencyHourly:      time.Hour,
	taskdef.FrequencyOncePerDay:  24 * time.Hour,
	taskdef.FrequencyDaily:       24 * time.Hour,
	taskdef.FrequencyWeekly:      7 * 24 * time.Hour,
}

// Interval returns the canonical period for freq, and false if freq is
// unrecognized.
func Interval(freq taskdef.Frequency) (time.Duration, bool) {
	d, ok := canonicalIntervals[freq]
	return d, ok
}

// UnknownFrequencyError is returned when a definition names a frequency
// this kernel doesn't recognize.
type UnknownFrequencyError struct {
	Frequency taskdef.Frequency
}

func (e UnknownFrequencyError) Error() string {
	return fmt.Sprintf(`clock: unknown frequency %q`, string(e.Frequency))
}

// Due reports whether a task is eligible to run now, given its last run
// time (nil if it has never run) and the canonical interval for its
// frequency. The grace margin is subtracted from the interval before
// comparison, per spec.md §4.1's due-predicate table.
func Due(freq taskdef.Frequency, lastRunAt *time.Time, now time.Time) (bool, error) {
	interval, ok := Interval(freq)
	if !ok {
		return false, UnknownFrequencyError{Frequency: freq}
	}
	if lastRunAt == nil {
		return true, nil
	}
	elapsed := now.Sub(*lastRunAt)
	return elapsed >= interval-graceMargin, nil
}

// ComputeNextRun returns now advanced by freq's canonical interval. The
// result is advisory only (surfaced on the summary card); the Due
// predicate above is the sole execution gate, so ComputeNextRun is never
// consulted to decide eligibility.
func ComputeNextRun(now time.Time, freq taskdef.Frequency) (time.Time, error) {
	interval, ok := Interval(freq)
	if !ok {
		return time.Time{}, UnknownFrequencyError{Frequency: freq}
	}
	return now.Add(interval), nil
}

// Eligible reports whether a definition is eligible for execution this
// run: enabled, and due given its paired state.
func Eligible(def taskdef.TaskDefinition, state taskdef.TaskState, now time.Time) (bool, error) {
	if !def.Enabled {
		return false, nil
	}
	return Due(def.Frequency, state.LastRunAt, now)
}
