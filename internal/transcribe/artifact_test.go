package transcribe

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, n := range names {
		p := filepath.Join(root, filepath.FromSlash(n))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}
}

func TestFindArtifact(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{"single top level", []string{"audio.mp3", "audio.txt"}, "audio.txt"},
		{"nested", []string{"audio.mp3", "text_audio/out.json", "text_audio/out.txt"}, "text_audio/out.txt"},
		{"lexical first", []string{"b.txt", "a.txt"}, "a.txt"},
		{"directory before later file", []string{"a/inner.txt", "z.txt"}, "a/inner.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, tt.files...)

			got, err := FindArtifact(dir, "")
			if err != nil {
				t.Fatalf("FindArtifact returned error: %v", err)
			}
			if want := filepath.Join(dir, filepath.FromSlash(tt.want)); got != want {
				t.Fatalf("FindArtifact = %s, want %s", got, want)
			}
		})
	}
}

func TestFindArtifactNoMatch(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "audio.mp3", "out.srt", "out.json")
	if err := os.Mkdir(filepath.Join(dir, "notes.txt"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err := FindArtifact(dir, DefaultArtifactPattern)
	if !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("expected ErrNoArtifact, got %v", err)
	}
}

func TestFindArtifactCustomPattern(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "out.txt", "out.srt")

	got, err := FindArtifact(dir, "*.srt")
	if err != nil {
		t.Fatalf("FindArtifact returned error: %v", err)
	}
	if filepath.Base(got) != "out.srt" {
		t.Fatalf("unexpected artifact %s", got)
	}
}

func TestFindArtifactBadPattern(t *testing.T) {
	if _, err := FindArtifact(t.TempDir(), "["); err == nil {
		t.Fatal("expected error for malformed pattern")
	}
}

func TestFindArtifactMissingDir(t *testing.T) {
	_, err := FindArtifact(filepath.Join(t.TempDir(), "missing"), "")
	if err == nil || errors.Is(err, ErrNoArtifact) {
		t.Fatalf("expected walk error, got %v", err)
	}
}
