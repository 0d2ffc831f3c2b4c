// Package jobs implements the asynchronous generation job queue. A job is one
// batch of per-scene generation calls executed strictly in submission order by
// a dedicated worker, with per-item failure isolation, cooperative
// cancellation, and progress events published on the shared bus.
package jobs
