// Package api is the transport-neutral core of the daemon. Service wraps the
// job store, the workflow manager and the publication service behind the
// operations every front end shares (HTTP, WebSocket, the watch folder), and
// the DTOs here are what those front ends put on the wire.
//
// # Key Types
//
// Service: CreateJob, GetJob, ListJobs, CancelJob, RemoveJob,
// RequestPublication, RetryPublication, ListPublications and Subscribe. Every
// operation is scoped to a user id; jobs owned by someone else are reported as
// not found.
//
// JobView/PublicationView: transport representations of jobs.Job and
// jobs.Publication. Server-side file paths are never exposed, only whether an
// artefact exists.
//
// WorkflowStatus/DaemonStatus: scheduler and daemon diagnostics for the
// status endpoint.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Statuses are exposed as lowercase strings.
// Timestamps use RFC3339 with milliseconds.
package api
