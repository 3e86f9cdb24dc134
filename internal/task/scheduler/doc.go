// Package scheduler triggers named periodic jobs on cron or interval specs.
//
// Jobs run on the cron goroutine behind a SkipIfStillRunning chain, so a slow
// run of a job is never overlapped by its next trigger. Long or fan-out work
// belongs in the task engine; a scheduled job typically just selects work and
// enqueues it there (see internal/monitor's sweep).
package scheduler
