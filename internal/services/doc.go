// Package services defines shared utilities consumed by the pipeline stages
// and the external service clients beneath it.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, owners, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper. Markers follow the
//     pipeline taxonomy (validation, chunking, transcription, summarization,
//     publication, storage) so the workflow can map failures to job states.
//
// Client subpackages (deepgram, llm, gemini, confluence) speak to the
// external collaborators and classify their failures with these markers.
package services
