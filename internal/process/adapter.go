// internal/process/adapter.go
package process

import (
	"errors"
	"fmt"
	"time"

	"github.com/tendant/simple-transcriber/pkg/schema"
)

var ErrInvalidTransition = errors.New("invalid stage transition")

// stageRank orders the runner stages. Uploaded and UploadSkipped share a rank
// because they are alternative outcomes of the same step.
var stageRank = map[schema.JobStage]int{
	schema.StageStart:                  0,
	schema.StageParamsFetched:          1,
	schema.StageInputResolved:          2,
	schema.StageTranscriptionAttempted: 3,
	schema.StageArtifactSearched:       4,
	schema.StageUploaded:               5,
	schema.StageUploadSkipped:          5,
	schema.StageShuttingDown:           6,
}

// Job captures the stage a runner job has reached and why it failed, if it did.
type Job struct {
	ID        string
	Stage     schema.JobStage
	Failure   schema.FailureType
	Error     string
	StartedAt time.Time
	History   []schema.JobStage
}

func NewJob(id string) *Job {
	return &Job{
		ID:        id,
		Stage:     schema.StageStart,
		StartedAt: time.Now(),
		History:   []schema.JobStage{schema.StageStart},
	}
}

// Advance moves the job forward. ShuttingDown is reachable from any stage and
// nothing is reachable from it.
func (j *Job) Advance(next schema.JobStage) error {
	cur, ok := stageRank[j.Stage]
	if !ok {
		return fmt.Errorf("%w: unknown current stage %q", ErrInvalidTransition, j.Stage)
	}
	n, ok := stageRank[next]
	if !ok {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, next)
	}
	if j.Stage == schema.StageShuttingDown {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, j.Stage)
	}
	if next != schema.StageShuttingDown && n != cur+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Stage, next)
	}
	j.Stage = next
	j.History = append(j.History, next)
	return nil
}

func (j *Job) Terminal() bool { return j.Stage == schema.StageShuttingDown }

func (j *Job) Elapsed() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	return time.Since(j.StartedAt)
}

func MarkFailed(j *Job, failure schema.FailureType, err error) {
	j.Failure = failure
	if err != nil {
		j.Error = err.Error()
	}
}
