// Package main hosts the minutes CLI entrypoint and command graph.
//
// The Cobra command tree translates terminal invocations into HTTP calls
// against a running minutesd: uploading recordings, following jobs until they
// settle, reading the generated minutes and driving wiki publication. It
// resolves configuration, the daemon address and the acting user once so
// subcommands only deal with presentation.
package main
