// Package llm provides an OpenRouter chat client used to write meeting
// minutes.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.Complete: send one prompt with max_tokens and temperature, receive
// the generated text.
// Client.HealthCheck: verify API key and model availability.
//
// # Errors
//
// Non-2xx responses surface as *StatusError; a reply without text surfaces
// as *EmptyContentError. Both implement services.RetryClassifier so the
// summary orchestrator can decide whether to repeat the request. The client
// itself never retries.
package llm
