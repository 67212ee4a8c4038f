// Package notifications delivers job events via ntfy.
//
// NewService returns an ntfy-backed publisher when notifications.ntfy_topic is
// set and a no-op otherwise. Each event can be silenced through the matching
// notifications.* flag, so callers publish unconditionally and let the
// service decide what goes out.
package notifications
