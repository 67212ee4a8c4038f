// Package media inspects uploaded recordings and prepares them for
// transcription.
//
// Validator classifies a file by extension (native audio, convertible audio,
// or video), enforces the size and duration limits from config, and rejects
// media that ffprobe cannot read. Chunker normalizes non-native input to PCM
// WAV and splits the result into independently decodable segments of a
// bounded duration using ffmpeg.
//
// Both types run external tools through a CommandRunner so tests can replace
// ffmpeg and ffprobe with in-process fakes.
package media
