package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		raw     string
		want    URI
		wantErr bool
	}{
		{"gs://bucket/job/a.txt", URI{"gs", "bucket", "job/a.txt"}, false},
		{"gs://bucket", URI{"gs", "bucket", ""}, false},
		{"S3://media/x", URI{"s3", "media", "x"}, false},
		{"bucket/object", URI{}, true},
		{"gs:///object", URI{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseURI(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseURI returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseURI(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestURIJoin(t *testing.T) {
	root, err := ParseURI("gs://transcripts")
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if got := root.Join("abc123", "audio.txt").String(); got != "gs://transcripts/abc123/audio.txt" {
		t.Fatalf("unexpected join: %s", got)
	}

	nested, _ := ParseURI("s3://media/out/")
	if got := nested.Join("/job/", "x.txt").String(); got != "s3://media/out/job/x.txt" {
		t.Fatalf("unexpected nested join: %s", got)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	reg.Register("GS", local)

	got, err := reg.For("gs")
	if err != nil {
		t.Fatalf("For returned error: %v", err)
	}
	if got != Store(local) {
		t.Fatal("registry returned a different store")
	}
	if _, err := reg.For("s3"); err == nil {
		t.Fatal("expected error for unregistered scheme")
	}
	if len(reg.Schemes()) != 1 {
		t.Fatalf("unexpected schemes: %v", reg.Schemes())
	}
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	src := filepath.Join(t.TempDir(), "audio.txt")
	if err := os.WriteFile(src, []byte("hello transcript"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := store.Upload(ctx, src, "bucket", "job-1/audio.txt"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "nested", "copy.txt")
	if err := store.Download(ctx, "bucket", "job-1/audio.txt", dst); err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "hello transcript" {
		t.Fatalf("unexpected download content %q (%v)", data, err)
	}

	r, info, err := store.Open(ctx, "bucket", "job-1/audio.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if info.Size != int64(len("hello transcript")) {
		t.Fatalf("unexpected size %d", info.Size)
	}
	if !strings.HasPrefix(info.ContentType, "text/plain") {
		t.Fatalf("unexpected content type %q", info.ContentType)
	}
	body, _ := io.ReadAll(r)
	if string(body) != "hello transcript" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestLocalMissingObject(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	dst := filepath.Join(t.TempDir(), "x")
	err = store.Download(context.Background(), "bucket", "nope.mp3", dst)
	if !errors.Is(err, ErrNoObject) {
		t.Fatalf("expected ErrNoObject, got %v", err)
	}
	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Fatal("download of missing object left a file behind")
	}
}

func TestLocalRejectsEscapingNames(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	err = store.Put(context.Background(), "bucket", "../other/x", strings.NewReader("x"), 1, "")
	if err == nil {
		t.Fatal("expected error for escaping object name")
	}
}

func TestLocalListWithDelimiter(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	for _, name := range []string{"a_1/in.mp3", "a_1/in.txt", "b_2/in.wav", "top.txt"} {
		if err := store.Put(ctx, "bucket", name, strings.NewReader("x"), 1, ""); err != nil {
			t.Fatalf("Put %s: %v", name, err)
		}
	}

	top, err := store.List(ctx, "bucket", "", "/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, o := range top {
		names = append(names, o.Name)
	}
	if strings.Join(names, ",") != "a_1/,b_2/,top.txt" {
		t.Fatalf("unexpected top-level listing: %v", names)
	}
	if !top[0].Prefix || top[2].Prefix {
		t.Fatalf("prefix flags wrong: %+v", top)
	}

	inner, err := store.List(ctx, "bucket", "a_1/", "")
	if err != nil {
		t.Fatalf("List prefix: %v", err)
	}
	if len(inner) != 2 || inner[0].Name != "a_1/in.mp3" || inner[1].Name != "a_1/in.txt" {
		t.Fatalf("unexpected prefix listing: %+v", inner)
	}
}

func TestDetectMime(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(p, []byte("plain words"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	mt, err := detectMime(p)
	if err != nil {
		t.Fatalf("detectMime: %v", err)
	}
	if !strings.HasPrefix(mt, "text/plain") {
		t.Fatalf("unexpected mime %q", mt)
	}
	if _, err := detectMime(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

type recordingWriter struct {
	events []string
	n      int
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.n += len(p)
	return len(p), nil
}

func (w *recordingWriter) Close() error {
	w.events = append(w.events, "close")
	return nil
}

type failingReader struct {
	r   io.Reader
	err error
}

func (f *failingReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if err == io.EOF {
		return n, f.err
	}
	return n, err
}

func TestCommitObjectAbortsOnReadFailure(t *testing.T) {
	w := &recordingWriter{}
	readErr := errors.New("connection reset")
	abort := func() { w.events = append(w.events, "abort") }

	err := commitObject(w, abort, &failingReader{r: strings.NewReader("partial transcript"), err: readErr})

	if !errors.Is(err, readErr) {
		t.Fatalf("expected read error, got %v", err)
	}
	if strings.Join(w.events, ",") != "abort,close" {
		t.Fatalf("writer must be aborted before close, got %v", w.events)
	}
}

func TestCommitObjectFinalizes(t *testing.T) {
	w := &recordingWriter{}
	aborted := false

	if err := commitObject(w, func() { aborted = true }, strings.NewReader("full transcript")); err != nil {
		t.Fatalf("commitObject returned error: %v", err)
	}
	if aborted || strings.Join(w.events, ",") != "close" || w.n != len("full transcript") {
		t.Fatalf("unexpected commit: aborted=%v events=%v n=%d", aborted, w.events, w.n)
	}
}
