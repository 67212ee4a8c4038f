// Package confluence is a minimal Confluence Server REST client for
// publishing meeting minutes.
//
// Authentication uses a personal access token sent as a bearer token.
// Status codes map to error kinds (ErrAuth, ErrPermission, ErrNotFound,
// ErrValidation, ErrServer, ErrNetwork) that the publication service records
// on failed publications. Network failures and 5xx responses are retried up
// to Config.MaxRetries times with a fixed delay; every other failure is
// returned immediately.
package confluence
