package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS is a Store backed by Google Cloud Storage.
type GCS struct {
	client *gcs.Client
}

// NewGCS builds a client with application default credentials unless opts
// say otherwise.
func NewGCS(ctx context.Context, opts ...option.ClientOption) (*GCS, error) {
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCS client: %w", err)
	}
	return &GCS{client: client}, nil
}

func (g *GCS) Close() error { return g.client.Close() }

func (g *GCS) Download(ctx context.Context, bucket, object, dst string) error {
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("open gs://%s/%s: %w", bucket, object, gcsErr(err))
	}
	defer r.Close()
	return writeFile(dst, r)
}

func (g *GCS) Upload(ctx context.Context, src, bucket, object string) error {
	contentType, err := detectMime(src)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()
	return g.Put(ctx, bucket, object, f, -1, contentType)
}

func (g *GCS) Put(ctx context.Context, bucket, object string, r io.Reader, size int64, contentType string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := g.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if err := commitObject(w, cancel, r); err != nil {
		return fmt.Errorf("write gs://%s/%s: %w", bucket, object, err)
	}
	return nil
}

// commitObject streams r into w and finalizes it. Closing a GCS writer
// commits whatever was written, so a failed read cancels the writer's
// context first and the upload is abandoned instead of finalized.
func commitObject(w io.WriteCloser, abort context.CancelFunc, r io.Reader) error {
	if _, err := io.Copy(w, r); err != nil {
		abort()
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

func (g *GCS) Open(ctx context.Context, bucket, object string) (io.ReadCloser, ObjectInfo, error) {
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("open gs://%s/%s: %w", bucket, object, gcsErr(err))
	}
	return r, ObjectInfo{Name: object, Size: r.Attrs.Size, ContentType: r.Attrs.ContentType}, nil
}

func (g *GCS) List(ctx context.Context, bucket, prefix, delimiter string) ([]ObjectInfo, error) {
	it := g.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix, Delimiter: delimiter})
	var out []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", bucket, prefix, err)
		}
		if attrs.Prefix != "" {
			out = append(out, ObjectInfo{Name: attrs.Prefix, Prefix: true})
			continue
		}
		out = append(out, ObjectInfo{Name: attrs.Name, Size: attrs.Size, ContentType: attrs.ContentType})
	}
	return out, nil
}

func gcsErr(err error) error {
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return fmt.Errorf("%w: %v", ErrNoObject, err)
	}
	return err
}
