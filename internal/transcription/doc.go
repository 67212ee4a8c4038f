// Package transcription turns a job's audio chunks into one
// speaker-attributed transcript.
//
// The Orchestrator submits each chunk to the speech-to-text client, retries
// transient failures with a fixed pause (or the service's Retry-After when
// longer), checks for job cancellation before every chunk and attempt, and
// reassembles results in chunk order with timestamps shifted onto the
// recording's timeline. Chunks may run in parallel up to the configured
// concurrency.
package transcription
