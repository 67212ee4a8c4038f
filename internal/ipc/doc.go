// Package ipc ships the client the CLI uses to talk to a running minutes
// daemon over its HTTP API.
//
// Every request carries the bearer token and the X-User-ID header so the
// daemon can scope jobs to their owner. Non-2xx responses are decoded into
// *APIError, which unwraps to the matching services marker so callers can
// branch with errors.Is. Watch follows a job over the websocket endpoint
// until the daemon reports it settled.
package ipc
