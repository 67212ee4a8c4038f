package config

const (
	defaultDataDir = "~/.local/share/minutes"
	defaultLogDir  = "~/.local/share/minutes/logs"
	defaultTempDir = "~/.cache/minutes/work"
	defaultAPIBind = "127.0.0.1:7488"

	defaultChunkDurationMinutes = 15
	defaultMaxFileSizeMB        = 500
	defaultMaxDurationMinutes   = 240
	defaultFFmpegBinary         = "ffmpeg"
	defaultFFprobeBinary        = "ffprobe"

	defaultDeepgramBaseURL     = "https://api.deepgram.com/v1"
	defaultDeepgramModel       = "nova-2"
	defaultDeepgramLanguage    = "ru"
	defaultDeepgramTimeout     = 300
	defaultTranscriptionRetry  = 3
	defaultRequestPauseSeconds = 5
	defaultSpeakerLabelFormat  = "Speaker %d"

	defaultSummaryProvider     = "openrouter"
	defaultOpenRouterBaseURL   = "https://openrouter.ai/api/v1/chat/completions"
	defaultOpenRouterModel     = "anthropic/claude-sonnet-4.5"
	defaultGeminiModel         = "gemini-2.5-flash"
	defaultSummaryMaxTokens    = 2000
	defaultSummaryTemperature  = 0.7
	defaultSummaryTimeout      = 120
	defaultSummaryRetries      = 3
	defaultSummaryPauseSeconds = 5
	defaultSummaryTitle        = "Minutes"

	defaultTemplateName      = "auto"
	defaultFallbackTemplate  = "standard"
	defaultMinKeywordMatches = 2

	defaultPublicationTimeout    = 30
	defaultPublicationMaxRetries = 3
	defaultPublicationRetryDelay = 1

	defaultMaxConcurrentJobs  = 2
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120

	defaultNtfyRequestTimeout = 10
)

var defaultTemplatePriority = []string{"standup", "technical", "business", "review", "brainstorm"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			TempDir: defaultTempDir,
			APIBind: defaultAPIBind,
		},
		Media: Media{
			ChunkDurationMinutes: defaultChunkDurationMinutes,
			MaxFileSizeMB:        defaultMaxFileSizeMB,
			MaxDurationMinutes:   defaultMaxDurationMinutes,
			FFmpegBinary:         defaultFFmpegBinary,
			FFprobeBinary:        defaultFFprobeBinary,
		},
		Transcription: Transcription{
			BaseURL:             defaultDeepgramBaseURL,
			Model:               defaultDeepgramModel,
			Language:            defaultDeepgramLanguage,
			TimeoutSeconds:      defaultDeepgramTimeout,
			MaxRetries:          defaultTranscriptionRetry,
			RequestPauseSeconds: defaultRequestPauseSeconds,
			ChunkConcurrency:    1,
			Diarize:             true,
			Punctuate:           true,
			SmartFormat:         true,
			Paragraphs:          true,
			SpeakerLabelFormat:  defaultSpeakerLabelFormat,
		},
		Summary: Summary{
			Provider:            defaultSummaryProvider,
			MaxTokens:           defaultSummaryMaxTokens,
			Temperature:         defaultSummaryTemperature,
			TimeoutSeconds:      defaultSummaryTimeout,
			MaxRetries:          defaultSummaryRetries,
			RequestPauseSeconds: defaultSummaryPauseSeconds,
			Title:               defaultSummaryTitle,
		},
		Templates: Templates{
			Default:           defaultTemplateName,
			Fallback:          defaultFallbackTemplate,
			MinKeywordMatches: defaultMinKeywordMatches,
			Priority:          append([]string(nil), defaultTemplatePriority...),
		},
		Publication: Publication{
			TimeoutSeconds:    defaultPublicationTimeout,
			MaxRetries:        defaultPublicationMaxRetries,
			RetryDelaySeconds: defaultPublicationRetryDelay,
		},
		Workflow: Workflow{
			MaxConcurrentJobs:  defaultMaxConcurrentJobs,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
			JobCompleted:   true,
			JobFailed:      true,
			Publication:    true,
		},
	}
}
