// Package runner executes one transcription job from instance metadata to
// uploaded transcript, then terminates the host.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendant/simple-transcriber/internal/host"
	"github.com/tendant/simple-transcriber/internal/locator"
	"github.com/tendant/simple-transcriber/internal/metadata"
	"github.com/tendant/simple-transcriber/internal/process"
	"github.com/tendant/simple-transcriber/internal/status"
	"github.com/tendant/simple-transcriber/internal/storage"
	"github.com/tendant/simple-transcriber/internal/transcribe"
	"github.com/tendant/simple-transcriber/pkg/schema"
)

// shutdownTimeout bounds the host shutdown call once the job has finished,
// including after the parent context was cancelled.
const shutdownTimeout = 2 * time.Minute

// ParamsSource yields the parameters of the job assigned to this host.
type ParamsSource interface {
	JobParameters(ctx context.Context) (metadata.JobParameters, error)
}

type Config struct {
	WorkRoot string
	// OutputRoot overrides the upload root derived from the job's output
	// bucket, e.g. "s3://archive/transcripts".
	OutputRoot      string
	ArtifactPattern string
	// Timeout bounds the transcription tool. Zero means no limit.
	Timeout time.Duration
	// Salvage keeps searching for and uploading output after the tool fails.
	Salvage bool
	// Instance labels lifecycle events.
	Instance string
}

type Deps struct {
	Params   ParamsSource
	Stores   *storage.Registry
	Tool     transcribe.Transcriber
	Host     host.Shutdowner
	Reporter status.Reporter
	Logger   *slog.Logger
	// Flush runs after the done event is reported and before the host is
	// shut down.
	Flush func(ctx context.Context)
}

type Runner struct {
	cfg      Config
	params   ParamsSource
	stores   *storage.Registry
	tool     transcribe.Transcriber
	host     *host.Once
	reporter status.Reporter
	logger   *slog.Logger
	flush    func(ctx context.Context)
}

func New(cfg Config, deps Deps) *Runner {
	if cfg.ArtifactPattern == "" {
		cfg.ArtifactPattern = transcribe.DefaultArtifactPattern
	}
	r := &Runner{
		cfg:      cfg,
		params:   deps.Params,
		stores:   deps.Stores,
		tool:     deps.Tool,
		host:     host.NewOnce(deps.Host),
		reporter: deps.Reporter,
		logger:   deps.Logger,
		flush:    deps.Flush,
	}
	if deps.Host == nil {
		r.host = host.NewOnce(host.Noop{})
	}
	if r.reporter == nil {
		r.reporter = status.Noop{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.stores == nil {
		r.stores = storage.NewRegistry()
	}
	return r
}

// Outcome is the result of one Run. Stage is the last stage reached before
// the host was shut down.
type Outcome struct {
	JobID      string
	Stage      schema.JobStage
	RemotePath string
	Failure    schema.FailureType
	Err        error
	// Stages lists every stage the job passed through, shutting_down last.
	Stages []schema.JobStage
}

// OK reports whether the job reached an upload decision. A missing artifact
// still counts.
func (o Outcome) OK() bool {
	return o.Stage == schema.StageUploaded || o.Stage == schema.StageUploadSkipped
}

// jobRun carries the state of a single Run.
type jobRun struct {
	job      *process.Job
	params   metadata.JobParameters
	workDir  string
	resolved string
	artifact string
	remote   string
	events   []schema.JobLifecycleEvent
	logger   *slog.Logger
	err      error
}

func (j *jobRun) fail(failure schema.FailureType, err error) {
	process.MarkFailed(j.job, failure, err)
	j.err = err
}

// Run executes the job and shuts the host down exactly once, whatever
// happened before.
func (r *Runner) Run(ctx context.Context) Outcome {
	run := &jobRun{job: process.NewJob(""), logger: r.logger}
	r.execute(ctx, run)
	return r.finish(ctx, run)
}

func (r *Runner) execute(ctx context.Context, run *jobRun) {
	params, err := r.params.JobParameters(ctx)
	if err != nil {
		run.logger.Error("fetch job parameters failed", "err", err)
		run.fail(schema.FailureTypeParams, fmt.Errorf("fetch job parameters: %w", err))
		return
	}
	run.params = params
	run.job.ID = params.JobID
	run.logger = r.logger.With("job_id", params.JobID)
	run.logger.Info("job parameters fetched",
		"input_locator", params.InputLocator,
		"output_bucket", params.OutputBucket,
		"has_credential_token", params.CredentialToken != "",
	)
	r.emit(ctx, run, schema.StageStart, nil)
	r.advance(ctx, run, schema.StageParamsFetched, nil)

	run.workDir = filepath.Join(r.cfg.WorkRoot, params.JobID)
	if err := os.MkdirAll(run.workDir, 0o755); err != nil {
		run.logger.Error("prepare working directory failed", "work_dir", run.workDir, "err", err)
		run.fail(schema.FailureTypeWorkspace, fmt.Errorf("prepare working directory: %w", err))
		return
	}
	run.logger.Info("working directory ready", "work_dir", run.workDir)

	if !r.resolveInput(ctx, run) {
		return
	}
	r.advance(ctx, run, schema.StageInputResolved, nil)

	toolErr := r.transcribe(ctx, run)
	if toolErr != nil {
		run.fail(schema.FailureTypeTool, toolErr)
	}
	r.advance(ctx, run, schema.StageTranscriptionAttempted, toolErr)
	if toolErr != nil {
		if !r.cfg.Salvage {
			return
		}
		run.logger.Warn("transcription failed, searching for partial output")
	}

	artifact, err := transcribe.FindArtifact(run.workDir, r.cfg.ArtifactPattern)
	r.advance(ctx, run, schema.StageArtifactSearched, nil)
	if err != nil {
		run.logger.Error("no transcription artifact found, skipping upload", "work_dir", run.workDir, "pattern", r.cfg.ArtifactPattern, "err", err)
		if run.job.Failure == "" {
			run.fail(schema.FailureTypeMissingArtifact, err)
		}
		r.advance(ctx, run, schema.StageUploadSkipped, err)
		return
	}
	run.artifact = artifact
	run.logger.Info("transcription artifact found", "artifact", artifact)

	if err := r.upload(ctx, run); err != nil {
		run.logger.Error("upload failed", "artifact", artifact, "err", err)
		run.fail(schema.FailureTypeUpload, err)
		return
	}
	run.logger.Info("uploaded transcription", "remote_path", run.remote)
	r.advance(ctx, run, schema.StageUploaded, nil)
}

// resolveInput turns the input locator into something the tool can read.
// Storage references are downloaded into the working directory; URLs are
// handed to the tool untouched.
func (r *Runner) resolveInput(ctx context.Context, run *jobRun) bool {
	loc := locator.Parse(run.params.InputLocator)
	switch loc.Kind {
	case locator.StorageRef:
		store, err := r.stores.For(loc.Scheme)
		if err != nil {
			run.logger.Error("no store for input", "input_locator", loc.String(), "err", err)
			run.fail(schema.FailureTypeDownload, err)
			return false
		}
		dst := filepath.Join(run.workDir, loc.BaseName())
		run.logger.Info("downloading input", "input_locator", loc.String(), "dst", dst)
		if err := store.Download(ctx, loc.Bucket, loc.Object, dst); err != nil {
			run.logger.Error("download input failed", "input_locator", loc.String(), "err", err)
			run.fail(schema.FailureTypeDownload, fmt.Errorf("download %s: %w", loc, err))
			return false
		}
		run.resolved = dst
	case locator.URLRef:
		run.logger.Info("passing url to transcription tool", "input_locator", loc.Raw)
		run.resolved = loc.Raw
	default:
		run.logger.Error("invalid input locator", "input_locator", run.params.InputLocator, "reason", loc.Reason)
		run.fail(schema.FailureTypeInvalidInput, fmt.Errorf("invalid input locator %q: %s", run.params.InputLocator, loc.Reason))
		return false
	}
	return true
}

func (r *Runner) transcribe(ctx context.Context, run *jobRun) error {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	opts := transcribe.Options{Diarize: true, Token: run.params.CredentialToken}
	if opts.Token == "" {
		run.logger.Warn("diarization requested without credential token")
	}

	run.logger.Info("starting transcription", "tool", r.tool.Name(), "source", run.resolved, "output_dir", run.workDir)
	start := time.Now()
	cmdLog, err := r.tool.Transcribe(ctx, run.resolved, run.workDir, opts)
	attrs := []any{"exit_code", cmdLog.ExitCode, "duration", time.Since(start).Round(time.Millisecond)}
	if err != nil {
		attrs = append(attrs, "stderr", cmdLog.Stderr, "err", err)
		run.logger.Error("transcription tool failed", attrs...)
		return err
	}
	run.logger.Info("transcription tool finished", attrs...)
	return nil
}

func (r *Runner) upload(ctx context.Context, run *jobRun) error {
	root, err := r.remoteRoot(run.params.OutputBucket)
	if err != nil {
		return err
	}
	target := root.Join(run.params.JobID, filepath.Base(run.artifact))
	store, err := r.stores.For(target.Scheme)
	if err != nil {
		return err
	}
	if err := store.Upload(ctx, run.artifact, target.Bucket, target.Object); err != nil {
		return fmt.Errorf("upload %s: %w", target, err)
	}
	run.remote = target.String()
	return nil
}

// remoteRoot is OutputRoot when configured, otherwise the job's output
// bucket. A bucket without a scheme is a GCS bucket.
func (r *Runner) remoteRoot(outputBucket string) (storage.URI, error) {
	raw := r.cfg.OutputRoot
	if raw == "" {
		raw = strings.TrimSpace(outputBucket)
		if !strings.Contains(raw, "://") {
			raw = "gs://" + raw
		}
	}
	root, err := storage.ParseURI(raw)
	if err != nil {
		return storage.URI{}, fmt.Errorf("output root: %w", err)
	}
	return root, nil
}

func (r *Runner) finish(ctx context.Context, run *jobRun) Outcome {
	out := Outcome{
		JobID:      run.job.ID,
		Stage:      run.job.Stage,
		RemotePath: run.remote,
		Failure:    run.job.Failure,
		Err:        run.err,
	}

	// Reporting and shutdown must still happen after SIGTERM cancelled ctx.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if !run.job.Terminal() {
		r.advance(sctx, run, schema.StageShuttingDown, run.err)
	}
	out.Stages = append([]schema.JobStage(nil), run.job.History...)
	r.reporter.Done(sctx, schema.JobDone{
		JobID:            run.job.ID,
		InputLocator:     run.params.InputLocator,
		ResolvedInput:    run.resolved,
		Artifact:         run.artifact,
		RemotePath:       run.remote,
		FinalStage:       out.Stage,
		ProcessingTimeMs: run.job.Elapsed().Milliseconds(),
		Lifecycle:        run.events,
		Error:            run.job.Error,
		FailureType:      run.job.Failure,
		HappenedAt:       time.Now().Unix(),
	})
	if r.flush != nil {
		r.flush(sctx)
	}

	run.logger.Info("shutting down host", "stage", out.Stage, "failure_type", out.Failure, "stages", out.Stages, "processing_time_ms", run.job.Elapsed().Milliseconds())
	if err := r.host.Shutdown(sctx); err != nil {
		run.logger.Error("host shutdown failed", "err", err)
	}
	return out
}

func (r *Runner) advance(ctx context.Context, run *jobRun, stage schema.JobStage, cause error) {
	if err := run.job.Advance(stage); err != nil {
		run.logger.Error("stage transition rejected", "from", run.job.Stage, "to", stage, "err", err)
		return
	}
	r.emit(ctx, run, stage, cause)
}

func (r *Runner) emit(ctx context.Context, run *jobRun, stage schema.JobStage, cause error) {
	evt := status.NewEvent(run.job.ID, stage, r.cfg.Instance, cause, run.job.Failure)
	run.events = append(run.events, evt)
	r.reporter.Lifecycle(ctx, evt)
}
