// Package workflow turns uploaded jobs into minutes.
//
// The Manager runs workflow.max_concurrent_jobs workers. Each worker claims
// the oldest uploaded job from the store, heart-beats it while it runs, and
// drives it through validation, chunking, transcription and summarization
// before optionally handing it to the publication service. Jobs that do not
// fit under the bound simply stay uploaded until a worker frees up.
//
// Every job gets its own temporary workspace under paths.temp_dir, removed on
// every outcome, and its own log file under paths.log_dir/jobs. Stale jobs
// left behind by a crashed daemon are reclaimed at startup and on each poll.
package workflow
