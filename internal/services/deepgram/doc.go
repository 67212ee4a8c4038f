// Package deepgram sends audio chunks to the Deepgram pre-recorded
// transcription endpoint and decodes speaker-attributed utterances.
//
// The client performs exactly one request per call. Retry pacing belongs to
// the transcription orchestrator; failed responses surface as *StatusError,
// which reports whether the status is worth retrying and any Retry-After
// delay the service requested.
package deepgram
