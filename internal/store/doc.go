// Package store manages durable state backed by SQLite: the project/scene
// records that generation results land in, and the workflow records the
// orchestrator persists after every step transition so a restart can resume
// exactly where it left off.
package store
