// Package config loads, normalizes, and validates minutes configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DEEPGRAM_API_KEY, OPENROUTER_API_KEY, GEMINI_API_KEY and CONFLUENCE_TOKEN.
// The Config type centralizes every knob the daemon and CLI need: media
// limits, external service credentials, retry pacing, template selection and
// the scheduler's concurrency bound.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
