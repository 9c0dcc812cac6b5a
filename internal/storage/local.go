package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local is a Store rooted at a directory, one subdirectory per bucket. It is
// meant for development and tests; object names are confined to the root.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("make local store root %q absolute: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create local store root %q: %w", abs, err)
	}
	return &Local{root: abs}, nil
}

func (l *Local) path(bucket, object string) (string, error) {
	p := filepath.Join(l.root, bucket, filepath.FromSlash(object))
	if !strings.HasPrefix(p, filepath.Join(l.root, bucket)+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object name %q", object)
	}
	return p, nil
}

func (l *Local) Download(ctx context.Context, bucket, object, dst string) error {
	r, _, err := l.Open(ctx, bucket, object)
	if err != nil {
		return err
	}
	defer r.Close()
	return writeFile(dst, r)
}

func (l *Local) Upload(ctx context.Context, src, bucket, object string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()
	return l.Put(ctx, bucket, object, f, -1, "")
}

func (l *Local) Put(_ context.Context, bucket, object string, r io.Reader, _ int64, _ string) error {
	p, err := l.path(bucket, object)
	if err != nil {
		return err
	}
	return writeFile(p, r)
}

func (l *Local) Open(_ context.Context, bucket, object string) (io.ReadCloser, ObjectInfo, error) {
	p, err := l.path(bucket, object)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ObjectInfo{}, fmt.Errorf("open %s/%s: %w", bucket, object, ErrNoObject)
	}
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ObjectInfo{}, err
	}
	contentType, err := detectMime(p)
	if err != nil {
		f.Close()
		return nil, ObjectInfo{}, err
	}
	return f, ObjectInfo{Name: object, Size: st.Size(), ContentType: contentType}, nil
}

func (l *Local) List(_ context.Context, bucket, prefix, delimiter string) ([]ObjectInfo, error) {
	base := filepath.Join(l.root, bucket)
	seen := make(map[string]bool)
	var out []ObjectInfo
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		if delimiter != "" {
			if i := strings.Index(name[len(prefix):], delimiter); i >= 0 {
				pfx := name[:len(prefix)+i+len(delimiter)]
				if !seen[pfx] {
					seen[pfx] = true
					out = append(out, ObjectInfo{Name: pfx, Prefix: true})
				}
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, ObjectInfo{Name: name, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
