// Package storage is the SQLite persistence layer of studybot.
//
// It stores:
//   - users and their reminder preferences
//   - scheduled events and tasks with their "reminded" flags
//   - per-user-per-day digest markers
//   - notifier dedup state (to survive restarts)
//
// All instants are stored as UTC unix seconds. Every driver error is wrapped
// in ErrRepository; a missing row is ErrNotFound.
package storage
