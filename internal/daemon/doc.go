// Package daemon coordinates the long-running minutes process.
//
// It wires configuration, job storage, the workflow manager, the optional
// watch folder and the HTTP API into a single lifecycle with flock-based
// locking to prevent multiple instances sharing a data directory.
//
// Keep orchestration logic here: pipeline steps live in their own packages
// and the operations shared by every front end live in internal/api. The
// daemon owns startup, shutdown and the HTTP transport.
package daemon
