package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobView describes a job in a transport-friendly format.
type JobView struct {
	ID               string            `json:"id"`
	Filename         string            `json:"filename"`
	Template         string            `json:"template"`
	ResolvedTemplate string            `json:"resolvedTemplate,omitempty"`
	Status           string            `json:"status"`
	Progress         JobProgress       `json:"progress"`
	Error            string            `json:"error,omitempty"`
	MediaKind        string            `json:"mediaKind,omitempty"`
	DurationSeconds  float64           `json:"durationSeconds,omitempty"`
	ChunkCount       int               `json:"chunkCount,omitempty"`
	PublishRequested bool              `json:"publishRequested"`
	CancelRequested  bool              `json:"cancelRequested"`
	Attempt          int               `json:"attempt"`
	HasTranscript    bool              `json:"hasTranscript"`
	HasMinutes       bool              `json:"hasMinutes"`
	HasDocx          bool              `json:"hasDocx"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        string            `json:"createdAt,omitempty"`
	UpdatedAt        string            `json:"updatedAt,omitempty"`
	CompletedAt      string            `json:"completedAt,omitempty"`
	Publication      *PublicationView  `json:"publication,omitempty"`
}

// JobProgress captures pipeline progress for a job.
type JobProgress struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// PublicationView describes a wiki publication record.
type PublicationView struct {
	ID          int64  `json:"id"`
	JobID       string `json:"jobId"`
	Status      string `json:"status"`
	PageID      string `json:"pageId,omitempty"`
	PageURL     string `json:"pageUrl,omitempty"`
	SpaceKey    string `json:"spaceKey,omitempty"`
	Title       string `json:"title,omitempty"`
	Error       string `json:"error,omitempty"`
	RetryCount  int    `json:"retryCount"`
	LastRetryAt string `json:"lastRetryAt,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

// ActiveJobView is a job currently held by a worker.
type ActiveJobView struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	StartedAt string `json:"startedAt"`
}

// JobStats is a normalized job count payload.
type JobStats struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Published int `json:"published"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running            bool            `json:"running"`
	Workers            int             `json:"workers"`
	Active             []ActiveJobView `json:"active"`
	Stats              JobStats        `json:"stats"`
	LastError          string          `json:"lastError,omitempty"`
	LastJob            *JobView        `json:"lastJob,omitempty"`
	PublicationEnabled bool            `json:"publicationEnabled"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command,omitempty"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	DatabasePath string             `json:"databasePath"`
	LockFilePath string             `json:"lockFilePath"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Checks       []CheckView        `json:"checks,omitempty"`
}

// CheckView is the outcome of a readiness check.
type CheckView struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status        string   `json:"status"`
	SchemaVersion int      `json:"schemaVersion"`
	Integrity     bool     `json:"integrity"`
	MissingTables []string `json:"missingTables,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job JobView `json:"job"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// PublicationResponse wraps a single publication.
type PublicationResponse struct {
	Publication PublicationView `json:"publication"`
}

// PublicationListResponse wraps a collection of publications.
type PublicationListResponse struct {
	Publications []PublicationView `json:"publications"`
}

// TemplateView describes a minutes template.
type TemplateView struct {
	Name              string   `json:"name"`
	DisplayName       string   `json:"displayName"`
	Description       string   `json:"description,omitempty"`
	Keywords          []string `json:"keywords,omitempty"`
	MinKeywordMatches int      `json:"minKeywordMatches,omitempty"`
}

// TemplateListResponse wraps the template catalog.
type TemplateListResponse struct {
	Templates []TemplateView `json:"templates"`
}

// ErrorResponse is the body of every non-2xx response. Publication carries
// the failed record when a publish attempt was made.
type ErrorResponse struct {
	Error       string           `json:"error"`
	Kind        string           `json:"kind"`
	Hint        string           `json:"hint,omitempty"`
	Publication *PublicationView `json:"publication,omitempty"`
}
