package store

import (
	"context"
	"io"

	"github.com/alecthomas/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures an S3-compatible store backend.
type S3Config struct {
	Endpoint  string `toml:"endpoint" help:"S3-compatible endpoint host:port."`
	Bucket    string `toml:"bucket" help:"Bucket to store crate tarballs in."`
	AccessKey string `toml:"access_key" help:"Static access key." env:"CRATEMIRROR_S3_ACCESS_KEY"`
	SecretKey string `toml:"secret_key" help:"Static secret key." env:"CRATEMIRROR_S3_SECRET_KEY"`
	UseSSL    bool   `toml:"use_ssl" default:"true" help:"Use TLS when talking to the S3 endpoint."`
}

// S3 is an object-storage Backend implementation, an additive alternative to
// Disk selected by crate_store.backend = "s3". It stores a tarball for key
// under the object name key.Path() in a single bucket, preserving the same
// flat-layout key scheme as the disk backend.
type S3 struct {
	client *minio.Client
	bucket string
}

var _ Backend = (*S3)(nil)

// NewS3 constructs an S3 backend from cfg, creating the bucket if it does
// not already exist.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "construct minio client")
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "check bucket existence")
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrap(err, "create bucket")
		}
	}

	return &S3{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3) Exists(ctx context.Context, key Key) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key.Path(), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return false, nil
	}
	return false, errors.Wrap(err, "stat crate object")
}

// s3Writer buffers a write-side upload: minio-go has no streaming
// PutObject that accepts an unsized io.Writer, so writes accumulate in
// memory and are flushed to the bucket on Close. Crate tarballs are small
// enough (single-digit megabytes) that this is not a scaling concern.
type s3Writer struct {
	ctx    context.Context
	client *minio.Client
	bucket string
	key    string
	buf    []byte
}

func (w *s3Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *s3Writer) Close() error {
	reader := &sliceReader{data: w.buf}
	_, err := w.client.PutObject(w.ctx, w.bucket, w.key, reader, int64(len(w.buf)), minio.PutObjectOptions{
		ContentType: "application/gzip",
	})
	if err != nil {
		return errors.Wrap(err, "put crate object")
	}
	return nil
}

type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (s *S3) Create(ctx context.Context, key Key) (io.WriteCloser, error) {
	return &s3Writer{ctx: ctx, client: s.client, bucket: s.bucket, key: key.Path()}, nil
}

func (s *S3) Remove(ctx context.Context, key Key) error {
	err := s.client.RemoveObject(ctx, s.bucket, key.Path(), minio.RemoveObjectOptions{})
	if err != nil {
		return errors.Wrap(err, "remove crate object")
	}
	return nil
}

func (s *S3) Open(ctx context.Context, key Key) (io.ReadSeekCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key.Path(), minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "get crate object")
	}
	// Confirm the object actually exists: minio-go's GetObject is lazy and
	// only contacts the server on first Read/Stat.
	if _, err := obj.Stat(); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, errors.Wrap(ErrNotExist, key.Path())
		}
		return nil, errors.Wrap(err, "stat crate object")
	}
	return obj, nil
}
