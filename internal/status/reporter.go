// Package status publishes runner progress. Reporting is best effort: every
// failure is logged and swallowed so it can never change a job's outcome.
package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tendant/simple-transcriber/internal/bus"
	"github.com/tendant/simple-transcriber/pkg/schema"
)

// StatusTTL is how long the latest job status stays readable in Redis.
const StatusTTL = 24 * time.Hour

type Reporter interface {
	Lifecycle(ctx context.Context, evt schema.JobLifecycleEvent)
	Done(ctx context.Context, done schema.JobDone)
}

// NewEvent stamps a lifecycle event with a fresh id and the current time.
func NewEvent(jobID string, stage schema.JobStage, instance string, err error, failure schema.FailureType) schema.JobLifecycleEvent {
	evt := schema.JobLifecycleEvent{
		EventID:    uuid.NewString(),
		JobID:      jobID,
		Stage:      stage,
		Instance:   instance,
		HappenedAt: time.Now().Unix(),
	}
	if err != nil {
		evt.Error = err.Error()
		evt.FailureType = failure
	}
	return evt
}

type Noop struct{}

func (Noop) Lifecycle(context.Context, schema.JobLifecycleEvent) {}
func (Noop) Done(context.Context, schema.JobDone)                {}

// Multi fans out to every reporter in order.
type Multi []Reporter

func (m Multi) Lifecycle(ctx context.Context, evt schema.JobLifecycleEvent) {
	for _, r := range m {
		r.Lifecycle(ctx, evt)
	}
}

func (m Multi) Done(ctx context.Context, done schema.JobDone) {
	for _, r := range m {
		r.Done(ctx, done)
	}
}

type jsonPublisher interface {
	PublishJSON(subject string, v any) error
}

var _ jsonPublisher = (*bus.Client)(nil)

// NATS publishes done events on subject and lifecycle events on its
// lifecycle subject.
type NATS struct {
	pub     jsonPublisher
	subject string
	logger  *slog.Logger
}

func NewNATS(pub jsonPublisher, subject string, logger *slog.Logger) *NATS {
	return &NATS{pub: pub, subject: subject, logger: logger}
}

func (n *NATS) Lifecycle(_ context.Context, evt schema.JobLifecycleEvent) {
	subject := bus.LifecycleSubject(n.subject)
	if err := n.pub.PublishJSON(subject, evt); err != nil {
		n.logger.Error("publish lifecycle event failed", "subject", subject, "stage", evt.Stage, "err", err)
	}
}

func (n *NATS) Done(_ context.Context, done schema.JobDone) {
	if err := n.pub.PublishJSON(n.subject, done); err != nil {
		n.logger.Error("publish result failed", "subject", n.subject, "job_id", done.JobID, "err", err)
	}
}

// StatusKey is both the Redis key holding a job's latest status and the
// channel status updates are published on.
func StatusKey(jobID string) string { return "transcribe:status:" + jobID }

type redisWriter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis keeps the latest event per job under StatusKey and publishes each
// update on the same name.
type Redis struct {
	rdb    redisWriter
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedis(rdb redisWriter, logger *slog.Logger) *Redis {
	return &Redis{rdb: rdb, ttl: StatusTTL, logger: logger}
}

func (r *Redis) Lifecycle(ctx context.Context, evt schema.JobLifecycleEvent) {
	r.write(ctx, evt.JobID, evt)
}

func (r *Redis) Done(ctx context.Context, done schema.JobDone) {
	r.write(ctx, done.JobID, done)
}

func (r *Redis) write(ctx context.Context, jobID string, v any) {
	if jobID == "" {
		r.logger.Warn("job status without job id not stored")
		return
	}
	key := StatusKey(jobID)
	b, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("encode job status failed", "key", key, "err", err)
		return
	}
	if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
		r.logger.Error("store job status failed", "key", key, "err", err)
		return
	}
	if err := r.rdb.Publish(ctx, key, b).Err(); err != nil {
		r.logger.Error("publish job status failed", "key", key, "err", err)
	}
}
