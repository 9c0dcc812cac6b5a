// internal/storage/store.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var ErrNoObject = errors.New("storage: no object")

// ObjectInfo describes one stored object, or a common prefix when Prefix is
// true.
type ObjectInfo struct {
	Name        string
	Size        int64
	ContentType string
	Prefix      bool
}

// Store is an object store addressed by bucket and object name.
type Store interface {
	// Download copies an object to dst, creating parent directories.
	Download(ctx context.Context, bucket, object, dst string) error
	// Upload copies the local file src to an object, detecting its content type.
	Upload(ctx context.Context, src, bucket, object string) error
	Put(ctx context.Context, bucket, object string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, bucket, object string) (io.ReadCloser, ObjectInfo, error)
	// List returns objects under prefix. With delimiter "/" only the first
	// level is returned and deeper names are folded into prefix entries.
	List(ctx context.Context, bucket, prefix, delimiter string) ([]ObjectInfo, error)
}

// Registry maps URI schemes to stores.
type Registry struct {
	stores map[string]Store
}

func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]Store)}
}

func (r *Registry) Register(scheme string, s Store) {
	r.stores[strings.ToLower(scheme)] = s
}

func (r *Registry) For(scheme string) (Store, error) {
	s, ok := r.stores[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("no store registered for scheme %q", scheme)
	}
	return s, nil
}

func (r *Registry) Schemes() []string {
	out := make([]string, 0, len(r.stores))
	for k := range r.stores {
		out = append(out, k)
	}
	return out
}

// URI is a parsed scheme://bucket/object reference. Object may be empty for a
// bucket root or contain a trailing prefix.
type URI struct {
	Scheme string
	Bucket string
	Object string
}

func ParseURI(raw string) (URI, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(raw), "://")
	if !ok || scheme == "" {
		return URI{}, fmt.Errorf("parse %q: missing scheme", raw)
	}
	bucket, object, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return URI{}, fmt.Errorf("parse %q: missing bucket", raw)
	}
	return URI{Scheme: strings.ToLower(scheme), Bucket: bucket, Object: object}, nil
}

// Join appends path elements to the object part.
func (u URI) Join(elem ...string) URI {
	parts := make([]string, 0, len(elem)+1)
	if o := strings.Trim(u.Object, "/"); o != "" {
		parts = append(parts, o)
	}
	for _, e := range elem {
		if e = strings.Trim(e, "/"); e != "" {
			parts = append(parts, e)
		}
	}
	u.Object = strings.Join(parts, "/")
	return u
}

func (u URI) String() string {
	if u.Object == "" {
		return u.Scheme + "://" + u.Bucket
	}
	return u.Scheme + "://" + u.Bucket + "/" + u.Object
}

func detectMime(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for mime detect: %w", err)
	}
	defer file.Close()

	buf := make([]byte, 512)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read for mime detect: %w", err)
	}
	return http.DetectContentType(buf[:n]), nil
}

// writeFile streams r into dst, removing the partial file on failure.
func writeFile(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dst)
		return fmt.Errorf("copy object to disk: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("close destination: %w", err)
	}
	return nil
}
