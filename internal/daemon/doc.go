// Package daemon assembles the sceneforge background services: the sqlite
// store, event bus, generation provider, job queue, workflow orchestrator,
// notifications, and the HTTP control API, under a single lifecycle with
// flock-based locking to prevent multiple instances.
package daemon
