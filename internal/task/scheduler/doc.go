// Package scheduler registers triggers and hands due work to the task engine.
//
// Two kinds of trigger live here:
//   - one-shot timers keyed by a caller-chosen id (Upsert/Cancel). They exist
//     only in memory and are discarded by Stop.
//   - periodic schedules (AddSchedule/AddCron/AddInterval) driven by robfig/cron.
//
// Nothing runs on the scheduler's own goroutines beyond enqueueing.
package scheduler
