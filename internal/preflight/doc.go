// Package preflight provides readiness checks for the filesystem paths and
// credentials the minutes daemon depends on.
//
// The daemon logs failed checks at startup and reports every result through
// the status endpoint, which the CLI "minutes status" command renders.
// Checks never block startup; a job that needs a missing credential fails in
// the stage that uses it.
package preflight
