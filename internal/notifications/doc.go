// Package notifications delivers push notifications for pipeline milestones
// through ntfy. When no topic is configured every method is a silent no-op,
// so callers never need to guard their notification calls.
package notifications
