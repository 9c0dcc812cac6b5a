package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// S3 is a Store for S3-compatible object storage.
type S3 struct {
	client *minio.Client
}

func NewS3(cfg S3Config) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to s3 endpoint %s: %w", cfg.Endpoint, err)
	}
	return &S3{client: client}, nil
}

func (s *S3) Download(ctx context.Context, bucket, object, dst string) error {
	obj, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("open s3://%s/%s: %w", bucket, object, s3Err(err))
	}
	defer obj.Close()
	// GetObject is lazy; Stat surfaces a missing key before a file is created.
	if _, err := obj.Stat(); err != nil {
		return fmt.Errorf("stat s3://%s/%s: %w", bucket, object, s3Err(err))
	}
	return writeFile(dst, obj)
}

func (s *S3) Upload(ctx context.Context, src, bucket, object string) error {
	contentType, err := detectMime(src)
	if err != nil {
		return err
	}
	if _, err := s.client.FPutObject(ctx, bucket, object, src, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", bucket, object, err)
	}
	return nil
}

func (s *S3) Put(ctx context.Context, bucket, object string, r io.Reader, size int64, contentType string) error {
	if _, err := s.client.PutObject(ctx, bucket, object, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, object, err)
	}
	return nil
}

func (s *S3) Open(ctx context.Context, bucket, object string) (io.ReadCloser, ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("open s3://%s/%s: %w", bucket, object, s3Err(err))
	}
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, ObjectInfo{}, fmt.Errorf("stat s3://%s/%s: %w", bucket, object, s3Err(err))
	}
	return obj, ObjectInfo{Name: st.Key, Size: st.Size, ContentType: st.ContentType}, nil
}

func (s *S3) List(ctx context.Context, bucket, prefix, delimiter string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for oi := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: delimiter == "",
	}) {
		if oi.Err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, oi.Err)
		}
		if delimiter != "" && len(oi.Key) > 0 && oi.Key[len(oi.Key)-1] == '/' {
			out = append(out, ObjectInfo{Name: oi.Key, Prefix: true})
			continue
		}
		out = append(out, ObjectInfo{Name: oi.Key, Size: oi.Size, ContentType: oi.ContentType})
	}
	return out, nil
}

func s3Err(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %v", ErrNoObject, err)
	}
	return err
}
