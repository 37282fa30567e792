// Package reminder plans and sweeps per-user reminders.
//
// The Planner registers two one-shot timers per event or task: a pre-offset
// reminder and a daily-digest reminder on the item's local date. The Sweep
// runs once a minute and is the only source of exact-time reminders, which it
// marks as reminded after dispatch. It also repeats the pre-offset reminder
// under the same key as the timer and sends the consolidated daily digest,
// guarded by a stored per-day marker.
//
// Preferences is the typed entry point for settings changes; it re-plans the
// user whenever a trigger instant may have moved.
package reminder
