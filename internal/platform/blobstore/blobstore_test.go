package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/surgiform/surgiform/pkg/pagination"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// newTickingStore returns a memory store whose clock advances one minute
// per upload, so listings have a stable order.
func newTickingStore() *InMemoryBlobStore {
	store := NewInMemoryBlobStore()
	var mu sync.Mutex
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
	return store
}

func seedBlob(t *testing.T, store BlobStore, sessionID, fileName, content string) *BlobMetadata {
	t.Helper()
	meta := BlobMetadata{
		FileName:    fileName,
		ContentType: "application/pdf",
		SessionID:   sessionID,
		Category:    CategoryConsentForm,
		Tags:        map[string]string{"source": "unit-test"},
	}
	result, err := store.Upload(context.Background(), meta, strings.NewReader(content))
	if err != nil {
		t.Fatalf("seedBlob: %v", err)
	}
	return result
}

// ---------------------------------------------------------------------------
// Store tests
// ---------------------------------------------------------------------------

func TestInMemoryBlobStore_Upload(t *testing.T) {
	store := NewInMemoryBlobStore()
	content := "%PDF-1.3 consent"

	result, err := store.Upload(context.Background(), BlobMetadata{
		FileName:    "consent_12345_20240301.pdf",
		ContentType: "application/pdf",
		SessionID:   "session-1",
		Category:    CategoryConsentForm,
	}, strings.NewReader(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.ID == "" {
		t.Fatal("expected non-empty ID")
	}
	if result.Size != int64(len(content)) {
		t.Errorf("expected Size=%d, got %d", len(content), result.Size)
	}
	expectedHash := fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
	if result.Hash != expectedHash {
		t.Errorf("expected Hash=%s, got %s", expectedHash, result.Hash)
	}
	if result.CreatedAt.IsZero() {
		t.Error("expected non-zero CreatedAt")
	}
	if result.Tags == nil {
		t.Error("expected Tags to be initialized")
	}
}

func TestInMemoryBlobStore_UploadDefaultsCategory(t *testing.T) {
	store := NewInMemoryBlobStore()
	result, err := store.Upload(context.Background(), BlobMetadata{
		FileName:    "sig.png",
		ContentType: "image/png",
	}, strings.NewReader("png"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Category != "other" {
		t.Errorf("expected Category=other, got %s", result.Category)
	}
}

func TestInMemoryBlobStore_UploadRejects(t *testing.T) {
	tests := []struct {
		name    string
		meta    BlobMetadata
		content io.Reader
		want    error
	}{
		{
			name:    "missing file name",
			meta:    BlobMetadata{ContentType: "application/pdf"},
			content: strings.NewReader("x"),
			want:    ErrMissingFileName,
		},
		{
			name:    "content type",
			meta:    BlobMetadata{FileName: "a.txt", ContentType: "text/plain"},
			content: strings.NewReader("x"),
			want:    ErrInvalidContentType,
		},
		{
			name:    "category",
			meta:    BlobMetadata{FileName: "a.pdf", ContentType: "application/pdf", Category: "radiology"},
			content: strings.NewReader("x"),
			want:    ErrInvalidCategory,
		},
		{
			name:    "too large",
			meta:    BlobMetadata{FileName: "a.pdf", ContentType: "application/pdf"},
			content: bytes.NewReader(make([]byte, MaxFileSize+1)),
			want:    ErrFileTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewInMemoryBlobStore()
			_, err := store.Upload(context.Background(), tt.meta, tt.content)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestInMemoryBlobStore_DownloadAndMetadata(t *testing.T) {
	store := NewInMemoryBlobStore()
	uploaded := seedBlob(t, store, "s1", "a.pdf", "pdf-bytes")

	rc, meta, err := store.Download(context.Background(), uploaded.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != "pdf-bytes" {
		t.Errorf("expected content pdf-bytes, got %q", data)
	}
	if meta.SessionID != "s1" {
		t.Errorf("expected SessionID=s1, got %s", meta.SessionID)
	}

	got, err := store.GetMetadata(context.Background(), uploaded.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Hash != uploaded.Hash {
		t.Errorf("metadata hash mismatch")
	}
}

func TestInMemoryBlobStore_NotFound(t *testing.T) {
	store := NewInMemoryBlobStore()
	ctx := context.Background()

	if _, _, err := store.Download(ctx, "missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Download: expected ErrBlobNotFound, got %v", err)
	}
	if _, err := store.GetMetadata(ctx, "missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("GetMetadata: expected ErrBlobNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Delete: expected ErrBlobNotFound, got %v", err)
	}
}

func TestInMemoryBlobStore_Delete(t *testing.T) {
	store := NewInMemoryBlobStore()
	uploaded := seedBlob(t, store, "s1", "a.pdf", "x")

	if err := store.Delete(context.Background(), uploaded.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.GetMetadata(context.Background(), uploaded.ID); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
	}
}

func TestInMemoryBlobStore_List(t *testing.T) {
	store := newTickingStore()
	first := seedBlob(t, store, "s1", "first.pdf", "1")
	seedBlob(t, store, "s2", "other-session.pdf", "2")
	last := seedBlob(t, store, "s1", "last.pdf", "3")

	items, total, err := store.List(context.Background(), ListParams{
		SessionID: "s1",
		Page:      pagination.Params{Limit: 10},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("expected 2 items for s1, got total=%d len=%d", total, len(items))
	}
	if items[0].ID != last.ID || items[1].ID != first.ID {
		t.Errorf("expected newest first, got %s then %s", items[0].FileName, items[1].FileName)
	}
}

func TestInMemoryBlobStore_ListPagination(t *testing.T) {
	store := newTickingStore()
	for i := 0; i < 5; i++ {
		seedBlob(t, store, "s1", fmt.Sprintf("doc-%d.pdf", i), "x")
	}

	items, total, err := store.List(context.Background(), ListParams{
		Page: pagination.Params{Limit: 2, Offset: 4},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(items) != 1 || items[0].FileName != "doc-0.pdf" {
		t.Errorf("expected only the oldest document on the last page, got %+v", items)
	}
}

func TestInMemoryBlobStore_ConcurrentAccess(t *testing.T) {
	store := NewInMemoryBlobStore()
	const goroutines = 20

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(n int) {
			defer wg.Done()
			result, err := store.Upload(context.Background(), BlobMetadata{
				FileName:    fmt.Sprintf("file-%d.pdf", n),
				ContentType: "application/pdf",
				SessionID:   "concurrent",
				Category:    CategoryConsentForm,
			}, strings.NewReader(fmt.Sprintf("content-%d", n)))
			if err != nil {
				t.Errorf("upload goroutine %d: %v", n, err)
				return
			}
			rc, _, err := store.Download(context.Background(), result.ID)
			if err != nil {
				t.Errorf("download goroutine %d: %v", n, err)
				return
			}
			rc.Close()
		}(i)
	}
	wg.Wait()

	_, total, err := store.List(context.Background(), ListParams{SessionID: "concurrent"})
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if total != goroutines {
		t.Errorf("expected total=%d, got %d", goroutines, total)
	}
}

func TestMetaValue(t *testing.T) {
	m := map[string]string{
		"Session-Id":            "s1",
		"x-amz-meta-file-name":  "a.pdf",
		"X-Amz-Meta-Created-At": "2024-03-01T00:00:00Z",
	}
	tests := []struct{ name, want string }{
		{metaSessionID, "s1"},
		{metaFileName, "a.pdf"},
		{metaCreatedAt, "2024-03-01T00:00:00Z"},
		{metaHash, ""},
	}
	for _, tt := range tests {
		if got := metaValue(m, tt.name); got != tt.want {
			t.Errorf("metaValue(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func newTestServer(store BlobStore) *echo.Echo {
	e := echo.New()
	NewBlobHandler(store).RegisterRoutes(e.Group("/api/v1"))
	return e
}

func TestBlobHandler_List(t *testing.T) {
	store := newTickingStore()
	seedBlob(t, store, "s1", "a.pdf", "a")
	seedBlob(t, store, "s1", "b.pdf", "b")
	seedBlob(t, store, "s2", "c.pdf", "c")
	if _, err := store.Upload(context.Background(), BlobMetadata{
		FileName: "sig.png", ContentType: "image/png", SessionID: "s1", Category: "signature",
	}, strings.NewReader("png")); err != nil {
		t.Fatal(err)
	}
	e := newTestServer(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents?session_id=s1&limit=1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data    []BlobMetadata    `json:"data"`
		Total   int               `json:"total"`
		HasMore bool              `json:"has_more"`
		Links   []pagination.Link `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error unmarshaling: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("expected the two consent forms of s1, got %d", resp.Total)
	}
	if len(resp.Data) != 1 || resp.Data[0].FileName != "b.pdf" {
		t.Errorf("expected newest document first, got %+v", resp.Data)
	}
	if !resp.HasMore {
		t.Error("expected has_more")
	}
	if len(resp.Links) != 2 || resp.Links[1].URL != "/api/v1/documents?offset=1&limit=1" {
		t.Errorf("unexpected links %+v", resp.Links)
	}
}

func TestBlobHandler_ListEmpty(t *testing.T) {
	e := newTestServer(NewInMemoryBlobStore())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected an empty data array, got %s", rec.Body.String())
	}
}

func TestBlobHandler_Download(t *testing.T) {
	store := NewInMemoryBlobStore()
	uploaded := seedBlob(t, store, "s1", "consent_1_20240301.pdf", "%PDF-bytes")
	e := newTestServer(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+uploaded.ID, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("expected Content-Type=application/pdf, got %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="consent_1_20240301.pdf"` {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	if rec.Body.String() != "%PDF-bytes" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestBlobHandler_DownloadNotFound(t *testing.T) {
	e := newTestServer(NewInMemoryBlobStore())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/nope", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}

func TestBlobHandler_GetMetadata(t *testing.T) {
	store := NewInMemoryBlobStore()
	uploaded := seedBlob(t, store, "s1", "a.pdf", "x")
	e := newTestServer(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+uploaded.ID+"/metadata", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result BlobMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("error unmarshaling: %v", err)
	}
	if result.ID != uploaded.ID || result.Category != CategoryConsentForm {
		t.Errorf("unexpected metadata %+v", result)
	}
}
