// Package jobs persists meeting-processing jobs and their wiki publications in
// SQLite and exposes the transitions that drive a job's lifecycle.
//
// The Store is the single synchronization point for the pipeline. Every
// status change runs inside an immediate transaction and only applies when the
// row still holds the status the caller read, so two workers can never advance
// the same job. Reads that originate from a user are always filtered by
// user_id; a foreign job is reported exactly like a missing one.
//
// Heartbeats stamp in-flight jobs so a restarted daemon can fail jobs whose
// worker disappeared instead of leaving them stuck. Schema changes bump the
// version in schema.go; operators clear the database to adopt the new schema.
package jobs
