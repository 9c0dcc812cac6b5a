package transcribe

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
)

// DefaultArtifactPattern matches the plain-text transcript the tool writes.
const DefaultArtifactPattern = "*.txt"

var ErrNoArtifact = errors.New("no transcription artifact found")

var errFound = errors.New("found")

// FindArtifact walks dir in lexical order and returns the first regular file
// whose base name matches pattern.
func FindArtifact(dir, pattern string) (string, error) {
	if pattern == "" {
		pattern = DefaultArtifactPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return "", fmt.Errorf("artifact pattern %q: %w", pattern, err)
	}

	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			found = path
			return errFound
		}
		return nil
	})
	if errors.Is(err, errFound) {
		return found, nil
	}
	if err != nil {
		return "", fmt.Errorf("search %s: %w", dir, err)
	}
	return "", fmt.Errorf("%w in %s matching %s", ErrNoArtifact, dir, pattern)
}
