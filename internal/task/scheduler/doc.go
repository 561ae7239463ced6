// Package scheduler triggers named jobs on cron, interval or one-shot
// schedules.
//
// Jobs run on supervised goroutines with a per-run timeout. The default
// overlap policy skips a trigger while the previous run of the same schedule
// is still in flight.
package scheduler
