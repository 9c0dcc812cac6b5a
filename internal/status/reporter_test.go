package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tendant/simple-transcriber/pkg/schema"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type published struct {
	subject string
	payload any
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) PublishJSON(subject string, v any) error {
	f.msgs = append(f.msgs, published{subject: subject, payload: v})
	return f.err
}

func TestNATSReporterSubjects(t *testing.T) {
	pub := &fakePublisher{}
	r := NewNATS(pub, "transcribe.done", discardLogger())

	r.Lifecycle(context.Background(), NewEvent("job-1", schema.StageParamsFetched, "", nil, ""))
	r.Done(context.Background(), schema.JobDone{JobID: "job-1", FinalStage: schema.StageUploaded})

	if len(pub.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(pub.msgs))
	}
	if pub.msgs[0].subject != "transcribe.done.lifecycle" {
		t.Fatalf("unexpected lifecycle subject %s", pub.msgs[0].subject)
	}
	if pub.msgs[1].subject != "transcribe.done" {
		t.Fatalf("unexpected done subject %s", pub.msgs[1].subject)
	}
}

func TestNATSReporterSwallowsErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	r := NewNATS(pub, "s", discardLogger())

	r.Lifecycle(context.Background(), NewEvent("job-1", schema.StageStart, "", nil, ""))
	r.Done(context.Background(), schema.JobDone{JobID: "job-1"})
	if len(pub.msgs) != 2 {
		t.Fatal("publish attempts missing")
	}
}

type fakeRedis struct {
	sets      map[string][]byte
	ttls      map[string]time.Duration
	published []string
	setErr    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{sets: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.sets[key] = value.([]byte)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Publish(_ context.Context, channel string, _ interface{}) *redis.IntCmd {
	f.published = append(f.published, channel)
	return redis.NewIntResult(1, nil)
}

func TestRedisReporterStoresLatestStatus(t *testing.T) {
	rdb := newFakeRedis()
	r := NewRedis(rdb, discardLogger())

	r.Lifecycle(context.Background(), NewEvent("abc123", schema.StageInputResolved, "worker", nil, ""))
	r.Done(context.Background(), schema.JobDone{JobID: "abc123", FinalStage: schema.StageUploaded, RemotePath: "gs://out/abc123/audio.txt"})

	key := "transcribe:status:abc123"
	if rdb.ttls[key] != StatusTTL {
		t.Fatalf("unexpected ttl %v", rdb.ttls[key])
	}
	var done schema.JobDone
	if err := json.Unmarshal(rdb.sets[key], &done); err != nil {
		t.Fatalf("stored value is not a done event: %v", err)
	}
	if done.RemotePath != "gs://out/abc123/audio.txt" {
		t.Fatalf("latest status not stored: %+v", done)
	}
	if len(rdb.published) != 2 || rdb.published[0] != key {
		t.Fatalf("unexpected publishes %v", rdb.published)
	}
}

func TestRedisReporterSkipsPublishWhenSetFails(t *testing.T) {
	rdb := newFakeRedis()
	rdb.setErr = errors.New("redis down")
	r := NewRedis(rdb, discardLogger())

	r.Done(context.Background(), schema.JobDone{JobID: "abc123"})
	if len(rdb.published) != 0 {
		t.Fatal("published despite failed set")
	}
}

type recordingReporter struct {
	stages []schema.JobStage
	done   int
}

func (r *recordingReporter) Lifecycle(_ context.Context, evt schema.JobLifecycleEvent) {
	r.stages = append(r.stages, evt.Stage)
}

func (r *recordingReporter) Done(context.Context, schema.JobDone) { r.done++ }

func TestMultiFansOut(t *testing.T) {
	a, b := &recordingReporter{}, &recordingReporter{}
	m := Multi{a, Noop{}, b}

	m.Lifecycle(context.Background(), NewEvent("j", schema.StageStart, "", nil, ""))
	m.Done(context.Background(), schema.JobDone{JobID: "j"})

	for _, r := range []*recordingReporter{a, b} {
		if len(r.stages) != 1 || r.done != 1 {
			t.Fatalf("reporter missed events: %+v", r)
		}
	}
}

func TestNewEventCarriesFailure(t *testing.T) {
	evt := NewEvent("j", schema.StageShuttingDown, "vm", errors.New("download failed"), schema.FailureTypeDownload)
	if evt.EventID == "" || evt.HappenedAt == 0 {
		t.Fatalf("event not stamped: %+v", evt)
	}
	if evt.Error != "download failed" || evt.FailureType != schema.FailureTypeDownload {
		t.Fatalf("failure not recorded: %+v", evt)
	}

	ok := NewEvent("j", schema.StageUploaded, "", nil, schema.FailureTypeTool)
	if ok.FailureType != "" {
		t.Fatal("failure type set without error")
	}
}

func TestRedisReporterIgnoresUnknownJob(t *testing.T) {
	rdb := newFakeRedis()
	NewRedis(rdb, discardLogger()).Done(context.Background(), schema.JobDone{FinalStage: schema.StageStart})
	if len(rdb.sets) != 0 || len(rdb.published) != 0 {
		t.Fatal("status written without a job id")
	}
}

type fakeRedisReader struct {
	values map[string]string
	err    error
}

func (f fakeRedisReader) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestLookupLatest(t *testing.T) {
	l := NewLookup(fakeRedisReader{values: map[string]string{
		"transcribe:status:abc123": `{"job_id":"abc123","stage":"uploaded"}`,
	}})

	b, err := l.Latest(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Latest returned error: %v", err)
	}
	if string(b) != `{"job_id":"abc123","stage":"uploaded"}` {
		t.Fatalf("unexpected status %s", b)
	}

	if _, err := l.Latest(context.Background(), "missing"); !errors.Is(err, ErrNoStatus) {
		t.Fatalf("expected ErrNoStatus, got %v", err)
	}

	broken := NewLookup(fakeRedisReader{err: errors.New("connection refused")})
	if _, err := broken.Latest(context.Background(), "abc123"); err == nil || errors.Is(err, ErrNoStatus) {
		t.Fatalf("expected read error, got %v", err)
	}
}
