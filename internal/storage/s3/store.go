// Package s3 keeps a dataset's raw table files in an S3-compatible bucket.
// Every object is a flat "<Table>.<ext>" file under one optional prefix.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/duckqa/duckqa/internal/storage"
)

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// bucketAPI is the slice of the S3 API the store needs. Keys passed to it
// already carry the prefix.
type bucketAPI interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket, region string) error
}

type Store struct {
	api    bucketAPI
	bucket string
	prefix string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	api, err := dialMinio(cfg)
	if err != nil {
		return nil, err
	}
	store, err := NewWithClient(cfg.Bucket, cfg.Prefix, api)
	if err != nil {
		return nil, err
	}
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func NewWithClient(bucket, prefix string, api bucketAPI) (*Store, error) {
	if api == nil {
		return nil, errors.New("s3 client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	return &Store{api: api, bucket: bucket, prefix: cleanPrefix(prefix)}, nil
}

// Put uploads one table file. The content type follows the extension unless
// opts names one.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	table, ext, full, err := s.tableKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = storage.ContentType(ext)
	}
	info, err := s.api.PutObject(ctx, s.bucket, full, body, size, contentType)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload %s to s3://%s/%s: %w", table, s.bucket, full, err)
	}
	info.Key, info.Table, info.Extension = s.relative(full), table, ext
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	table, _, full, err := s.tableKey(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.api.GetObject(ctx, s.bucket, full)
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		return nil, storage.ErrObjectNotFound
	case err != nil:
		return nil, fmt.Errorf("download %s from s3://%s/%s: %w", table, s.bucket, full, err)
	}
	return reader, nil
}

// List returns the table files directly under the prefix. Nested objects
// and keys that are not "<Table>.<ext>" are skipped.
func (s *Store) List(ctx context.Context) ([]storage.ObjectInfo, error) {
	listPrefix := ""
	if s.prefix != "" {
		listPrefix = s.prefix + "/"
	}
	objects, err := s.api.ListObjects(ctx, s.bucket, listPrefix)
	if err != nil {
		return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, listPrefix, err)
	}
	files := make([]storage.ObjectInfo, 0, len(objects))
	for _, object := range objects {
		rel := s.relative(object.Key)
		table, ext, err := storage.ParseTableFileKey(rel)
		if err != nil {
			continue
		}
		object.Key, object.Table, object.Extension = rel, table, ext
		files = append(files, object)
	}
	return files, nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.bucket, region); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

// tableKey validates a relative table file key and returns it with the
// prefix applied.
func (s *Store) tableKey(key string) (table, ext, full string, err error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	table, ext, err = storage.ParseTableFileKey(key)
	if err != nil {
		return "", "", "", err
	}
	return table, ext, path.Join(s.prefix, key), nil
}

func (s *Store) relative(full string) string {
	if s.prefix == "" {
		return full
	}
	return strings.TrimPrefix(full, s.prefix+"/")
}

func cleanPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	if cleaned := path.Clean(prefix); cleaned != "." {
		return cleaned
	}
	return ""
}

// splitEndpoint accepts "host:port" or a URL; an https URL forces TLS.
func splitEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("s3 endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse s3 endpoint: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("s3 endpoint %q has no host", raw)
	}
	return parsed.Host, useSSL || parsed.Scheme == "https", nil
}

type minioAPI struct {
	client *minio.Client
}

func dialMinio(cfg Config) (*minioAPI, error) {
	endpoint, secure, err := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &minioAPI{client: client}, nil
}

func (m *minioAPI) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	uploaded, err := m.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return storage.ObjectInfo{}, translateErr(err)
	}
	return storage.ObjectInfo{Key: uploaded.Key, Size: uploaded.Size, ETag: uploaded.ETag, LastModified: uploaded.LastModified}, nil
}

// GetObject stats eagerly so a missing key fails here rather than on the
// first Read.
func (m *minioAPI) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	object, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateErr(err)
	}
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		return nil, translateErr(err)
	}
	return object, nil
}

func (m *minioAPI) ListObjects(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for object := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if object.Err != nil {
			return nil, translateErr(object.Err)
		}
		if strings.HasSuffix(object.Key, "/") {
			continue
		}
		out = append(out, storage.ObjectInfo{Key: object.Key, Size: object.Size, ETag: object.ETag, LastModified: object.LastModified})
	}
	return out, nil
}

func (m *minioAPI) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := m.client.BucketExists(ctx, bucket)
	return exists, translateErr(err)
}

func (m *minioAPI) MakeBucket(ctx context.Context, bucket, region string) error {
	return translateErr(m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}))
}

func translateErr(err error) error {
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return storage.ErrObjectNotFound
		}
	}
	return err
}
