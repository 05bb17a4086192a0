// Package blobstore archives generated consent documents. It defines the
// BlobStore interface, an in-memory implementation for development and
// tests, a MinIO/S3 implementation, and Echo handlers for listing and
// downloading archived documents.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/surgiform/surgiform/pkg/pagination"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrInvalidCategory    = errors.New("category is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
)

// MaxFileSize is the maximum allowed blob size in bytes (20 MB).
const MaxFileSize = 20 * 1024 * 1024

// CategoryConsentForm marks a signed consent PDF.
const CategoryConsentForm = "consent-form"

// AllowedCategories lists valid blob category values.
var AllowedCategories = map[string]bool{
	CategoryConsentForm: true,
	"signature":         true,
	"other":             true,
}

// AllowedContentTypes lists the MIME types the archive accepts.
var AllowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
}

// BlobMetadata describes a stored blob.
type BlobMetadata struct {
	ID          string            `json:"id"`
	FileName    string            `json:"file_name"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	SessionID   string            `json:"session_id,omitempty"`
	Category    string            `json:"category"`
	Hash        string            `json:"hash"`
	CreatedAt   time.Time         `json:"created_at"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// ListParams filters and pages a listing. Empty fields match everything.
type ListParams struct {
	SessionID string
	Category  string
	Page      pagination.Params
}

// BlobStore defines the contract for blob storage backends.
type BlobStore interface {
	Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error)
	Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error)
	Delete(ctx context.Context, id string) error
	GetMetadata(ctx context.Context, id string) (*BlobMetadata, error)
	List(ctx context.Context, params ListParams) ([]*BlobMetadata, int, error)
}

// prepare validates meta, reads the content and fills in the derived fields
// shared by every backend.
func prepare(meta BlobMetadata, content io.Reader, now time.Time) (BlobMetadata, []byte, error) {
	if meta.FileName == "" {
		return meta, nil, ErrMissingFileName
	}
	if !AllowedContentTypes[meta.ContentType] {
		return meta, nil, fmt.Errorf("%w: %q", ErrInvalidContentType, meta.ContentType)
	}
	if meta.Category == "" {
		meta.Category = "other"
	}
	if !AllowedCategories[meta.Category] {
		return meta, nil, fmt.Errorf("%w: %q", ErrInvalidCategory, meta.Category)
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return meta, nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return meta, nil, ErrFileTooLarge
	}

	meta.ID = uuid.New().String()
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", sha256.Sum256(data))
	meta.CreatedAt = now.UTC()
	if meta.Tags == nil {
		meta.Tags = make(map[string]string)
	}
	return meta, data, nil
}

func (p ListParams) matches(m *BlobMetadata) bool {
	if p.SessionID != "" && m.SessionID != p.SessionID {
		return false
	}
	if p.Category != "" && m.Category != p.Category {
		return false
	}
	return true
}

// page sorts newest first and cuts out the requested page.
func page(matched []*BlobMetadata, p pagination.Params) []*BlobMetadata {
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	start, end := p.Bounds(len(matched))
	return matched[start:end]
}

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// InMemoryBlobStore is a thread-safe, in-memory BlobStore for testing/dev.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
	now   func() time.Time
}

// NewInMemoryBlobStore returns a ready-to-use InMemoryBlobStore.
func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{
		blobs: make(map[string]*storedBlob),
		now:   time.Now,
	}
}

// Upload validates inputs, reads the content, computes a SHA-256 hash, and
// stores the blob in memory.
func (s *InMemoryBlobStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

// Download returns an io.ReadCloser over the blob content and its metadata.
func (s *InMemoryBlobStore) Download(_ context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrBlobNotFound
	}

	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

// Delete removes a blob by ID.
func (s *InMemoryBlobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

// GetMetadata returns blob metadata without content.
func (s *InMemoryBlobStore) GetMetadata(_ context.Context, id string) (*BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBlobNotFound
	}

	meta := blob.metadata
	return &meta, nil
}

// List returns the matching page, newest first, and the total match count.
func (s *InMemoryBlobStore) List(_ context.Context, params ListParams) ([]*BlobMetadata, int, error) {
	s.mu.RLock()
	var matched []*BlobMetadata
	for _, b := range s.blobs {
		if !params.matches(&b.metadata) {
			continue
		}
		m := b.metadata
		matched = append(matched, &m)
	}
	s.mu.RUnlock()

	return page(matched, params.Page), len(matched), nil
}
