// Package scheduler triggers the tick job on a cron or interval schedule in
// the business time zone.
//
// The job never overlaps itself: a trigger that fires while the previous
// run is still going is skipped and counted. Manual runs (RunNow) share the
// same guard.
package scheduler
