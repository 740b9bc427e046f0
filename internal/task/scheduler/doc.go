// Package scheduler re-runs a job on a cron expression or a fixed interval.
//
// It is used by daemon mode to repeat a sequence run. Only one run is
// active at a time; firings that arrive while the job is still running are
// skipped and counted.
package scheduler
