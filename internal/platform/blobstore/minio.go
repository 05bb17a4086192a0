package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig locates the bucket that holds archived documents.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

const objectPrefix = "blobs/"

// Object user-metadata names. S3 returns them canonicalized
// ("Session-Id"), so lookups go through metaValue.
const (
	metaFileName  = "File-Name"
	metaSessionID = "Session-Id"
	metaCategory  = "Category"
	metaHash      = "Sha256"
	metaCreatedAt = "Created-At"
)

// MinioStore keeps blobs as objects named blobs/<id> in one bucket, with the
// metadata carried as object user metadata.
type MinioStore struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// NewMinioStore connects to the endpoint and creates the bucket if needed.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	s := &MinioStore{client: client, bucket: cfg.Bucket, now: time.Now}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func objectName(id string) string { return objectPrefix + id }

// Upload stores the content and its metadata as a single object.
func (s *MinioStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content, s.now())
	if err != nil {
		return nil, err
	}

	user := map[string]string{
		metaFileName:  meta.FileName,
		metaCategory:  meta.Category,
		metaHash:      meta.Hash,
		metaCreatedAt: meta.CreatedAt.Format(time.RFC3339Nano),
	}
	if meta.SessionID != "" {
		user[metaSessionID] = meta.SessionID
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectName(meta.ID), bytes.NewReader(data), meta.Size, minio.PutObjectOptions{
		ContentType:  meta.ContentType,
		UserMetadata: user,
		UserTags:     meta.Tags,
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", meta.ID, err)
	}
	return &meta, nil
}

// Download streams the object. The caller closes the reader.
func (s *MinioStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	meta, err := s.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, objectName(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, mapMinioError(id, err)
	}
	return obj, meta, nil
}

// Delete removes the object. Missing objects report ErrBlobNotFound.
func (s *MinioStore) Delete(ctx context.Context, id string) error {
	if _, err := s.GetMetadata(ctx, id); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, objectName(id), minio.RemoveObjectOptions{}); err != nil {
		return mapMinioError(id, err)
	}
	return nil
}

// GetMetadata reads the object's metadata without its content.
func (s *MinioStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	info, err := s.client.StatObject(ctx, s.bucket, objectName(id), minio.StatObjectOptions{})
	if err != nil {
		return nil, mapMinioError(id, err)
	}
	meta := metadataFromObject(info)
	return &meta, nil
}

// List walks every object under the prefix. Metadata comes with the listing
// when the server supports it; otherwise each object is stat'ed.
func (s *MinioStore) List(ctx context.Context, params ListParams) ([]*BlobMetadata, int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var matched []*BlobMetadata
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:       objectPrefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if info.Err != nil {
			return nil, 0, fmt.Errorf("list objects: %w", info.Err)
		}
		if len(info.UserMetadata) == 0 {
			full, err := s.client.StatObject(ctx, s.bucket, info.Key, minio.StatObjectOptions{})
			if err != nil {
				return nil, 0, mapMinioError(info.Key, err)
			}
			info = full
		}
		meta := metadataFromObject(info)
		if params.matches(&meta) {
			matched = append(matched, &meta)
		}
	}
	return page(matched, params.Page), len(matched), nil
}

func metadataFromObject(info minio.ObjectInfo) BlobMetadata {
	meta := BlobMetadata{
		ID:          strings.TrimPrefix(info.Key, objectPrefix),
		FileName:    metaValue(info.UserMetadata, metaFileName),
		ContentType: info.ContentType,
		Size:        info.Size,
		SessionID:   metaValue(info.UserMetadata, metaSessionID),
		Category:    metaValue(info.UserMetadata, metaCategory),
		Hash:        metaValue(info.UserMetadata, metaHash),
		CreatedAt:   info.LastModified.UTC(),
		Tags:        info.UserTags,
	}
	if created, err := time.Parse(time.RFC3339Nano, metaValue(info.UserMetadata, metaCreatedAt)); err == nil {
		meta.CreatedAt = created
	}
	return meta
}

// metaValue looks a user-metadata entry up case-insensitively, with or
// without the X-Amz-Meta- prefix listings sometimes keep.
func metaValue(m map[string]string, name string) string {
	for k, v := range m {
		k = strings.TrimPrefix(http.CanonicalHeaderKey(k), "X-Amz-Meta-")
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func mapMinioError(id string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrBlobNotFound, id)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("minio %s: %w", id, err)
}
