// Package intake turns recordings dropped into a watch folder into jobs.
//
// New files are picked up once their size and modification time stop
// changing for the settle window. Accepted files move to .processed and
// files the API rejects as invalid move to .rejected. Anything else is left
// in place and retried by the startup scan of the next run.
package intake
