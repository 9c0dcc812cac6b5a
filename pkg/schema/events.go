// pkg/schema/events.go
package schema

type JobStage string

const (
	StageStart                  JobStage = "start"
	StageParamsFetched          JobStage = "params_fetched"
	StageInputResolved          JobStage = "input_resolved"
	StageTranscriptionAttempted JobStage = "transcription_attempted"
	StageArtifactSearched       JobStage = "artifact_searched"
	StageUploaded               JobStage = "uploaded"
	StageUploadSkipped          JobStage = "upload_skipped"
	StageShuttingDown           JobStage = "shutting_down"
)

type FailureType string

const (
	FailureTypeParams          FailureType = "params"
	FailureTypeWorkspace       FailureType = "workspace"
	FailureTypeInvalidInput    FailureType = "invalid_input"
	FailureTypeDownload        FailureType = "download"
	FailureTypeTool            FailureType = "tool"
	FailureTypeMissingArtifact FailureType = "missing_artifact"
	FailureTypeUpload          FailureType = "upload"
)

// JobLifecycleEvent is emitted on every stage transition of a runner job.
type JobLifecycleEvent struct {
	EventID     string      `json:"event_id"`
	JobID       string      `json:"job_id"`
	Stage       JobStage    `json:"stage"`
	Instance    string      `json:"instance,omitempty"`
	Error       string      `json:"error,omitempty"`
	FailureType FailureType `json:"failure_type,omitempty"`
	HappenedAt  int64       `json:"happened_at"`
}

// JobDone is emitted once, right before the host is shut down.
type JobDone struct {
	JobID            string              `json:"job_id"`
	InputLocator     string              `json:"input_locator"`
	ResolvedInput    string              `json:"resolved_input,omitempty"`
	Artifact         string              `json:"artifact,omitempty"`
	RemotePath       string              `json:"remote_path,omitempty"`
	FinalStage       JobStage            `json:"final_stage"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
	Lifecycle        []JobLifecycleEvent `json:"lifecycle,omitempty"`
	Error            string              `json:"error,omitempty"`
	FailureType      FailureType         `json:"failure_type,omitempty"`
	HappenedAt       int64               `json:"happened_at"`
}

// DispatchRequest records what the dispatcher wrote onto the worker instance.
type DispatchRequest struct {
	JobID        string `json:"job_id"`
	InputLocator string `json:"input_locator"`
	OutputBucket string `json:"output_bucket"`
	Instance     string `json:"instance"`
	HappenedAt   int64  `json:"happened_at"`
}
