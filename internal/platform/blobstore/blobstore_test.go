package blobstore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"testing"
)

func seedBlob(t *testing.T, store Store, submissionID, key, fileName, contentType, content string) *BlobMetadata {
	t.Helper()
	meta := BlobMetadata{
		FileName:     fileName,
		ContentType:  contentType,
		SubmissionID: submissionID,
		ComponentKey: key,
	}
	result, err := store.Upload(context.Background(), meta, UploadLimits{}, strings.NewReader(content))
	if err != nil {
		t.Fatalf("seedBlob: %v", err)
	}
	return result
}

func TestAccepts(t *testing.T) {
	tests := []struct {
		name        string
		accept      []string
		fileName    string
		contentType string
		want        bool
	}{
		{"empty accepts all", nil, "scan.bin", "application/octet-stream", true},
		{"extension match", []string{".pdf"}, "report.PDF", "application/pdf", true},
		{"extension mismatch", []string{".pdf"}, "report.docx", "application/msword", false},
		{"extension via mime fallback", []string{".png"}, "upload", "image/png", true},
		{"wildcard match", []string{"image/*"}, "photo.jpg", "image/jpeg", true},
		{"wildcard mismatch", []string{"image/*"}, "doc.pdf", "application/pdf", false},
		{"exact mime", []string{"application/pdf"}, "r.pdf", "application/pdf", true},
		{"mime with params", []string{"text/csv"}, "data.csv", "text/csv; charset=utf-8", true},
		{"multiple tokens", []string{".pdf", "image/*"}, "photo.jpeg", "image/jpeg", true},
		{"case insensitive", []string{"IMAGE/PNG"}, "a.png", "image/png", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Accepts(tt.accept, tt.fileName, tt.contentType); got != tt.want {
				t.Errorf("Accepts(%v, %q, %q) = %v, want %v", tt.accept, tt.fileName, tt.contentType, got, tt.want)
			}
		})
	}
}

func TestInMemoryStore_UploadDownload(t *testing.T) {
	store := NewInMemoryStore()
	content := "signature image bytes"

	meta := seedBlob(t, store, "sub-1", "signature", "sig.png", "image/png", content)

	if meta.ID == "" {
		t.Error("expected generated ID")
	}
	if meta.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), meta.Size)
	}
	wantHash := fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
	if meta.Hash != wantHash {
		t.Errorf("expected hash %s, got %s", wantHash, meta.Hash)
	}

	rc, got, err := store.Download(context.Background(), meta.ID)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != content {
		t.Errorf("expected content %q, got %q", content, string(data))
	}
	if got.FileName != "sig.png" {
		t.Errorf("expected file name sig.png, got %s", got.FileName)
	}
}

func TestInMemoryStore_UploadRejectsMissingName(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.Upload(context.Background(), BlobMetadata{ContentType: "image/png"}, UploadLimits{}, strings.NewReader("x"))
	if err != ErrMissingFileName {
		t.Errorf("expected ErrMissingFileName, got %v", err)
	}
}

func TestInMemoryStore_UploadRejectsType(t *testing.T) {
	store := NewInMemoryStore()
	meta := BlobMetadata{FileName: "malware.exe", ContentType: "application/x-msdownload"}
	_, err := store.Upload(context.Background(), meta, UploadLimits{Accept: []string{"image/*", ".pdf"}}, strings.NewReader("x"))
	if err != ErrTypeNotAccepted {
		t.Errorf("expected ErrTypeNotAccepted, got %v", err)
	}
}

func TestInMemoryStore_UploadRejectsOversize(t *testing.T) {
	store := NewInMemoryStore()
	meta := BlobMetadata{FileName: "big.bin", ContentType: "application/octet-stream"}
	_, err := store.Upload(context.Background(), meta, UploadLimits{MaxBytes: 4}, strings.NewReader("12345"))
	if err != ErrFileTooLarge {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}

	if _, err := store.Upload(context.Background(), meta, UploadLimits{MaxBytes: 5}, strings.NewReader("12345")); err != nil {
		t.Errorf("upload at exact limit failed: %v", err)
	}
}

func TestInMemoryStore_Delete(t *testing.T) {
	store := NewInMemoryStore()
	meta := seedBlob(t, store, "sub-1", "file", "a.txt", "text/plain", "x")

	if err := store.Delete(context.Background(), meta.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.GetMetadata(context.Background(), meta.ID); err != ErrBlobNotFound {
		t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
	}
	if err := store.Delete(context.Background(), meta.ID); err != ErrBlobNotFound {
		t.Errorf("expected ErrBlobNotFound on second delete, got %v", err)
	}
}

func TestInMemoryStore_ListBySubmission(t *testing.T) {
	store := NewInMemoryStore()
	seedBlob(t, store, "sub-1", "file", "a.txt", "text/plain", "a")
	seedBlob(t, store, "sub-1", "signature", "sig.png", "image/png", "b")
	seedBlob(t, store, "sub-2", "file", "c.txt", "text/plain", "c")

	items, err := store.ListBySubmission(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("ListBySubmission: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 blobs for sub-1, got %d", len(items))
	}
}

func TestDiskStore_RoundTrip(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	content := "uploaded document"
	meta := seedBlob(t, store, "sub-9", "file", "doc.pdf", "application/pdf", content)

	rc, got, err := store.Download(context.Background(), meta.ID)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != content {
		t.Errorf("expected content %q, got %q", content, string(data))
	}
	if got.ContentType != "application/pdf" {
		t.Errorf("expected application/pdf, got %s", got.ContentType)
	}

	if err := store.Delete(context.Background(), meta.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := store.Download(context.Background(), meta.ID); err != ErrBlobNotFound {
		t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
	}
}

func TestDiskStore_ListBySubmission(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	seedBlob(t, store, "sub-1", "file", "a.txt", "text/plain", "a")
	seedBlob(t, store, "sub-2", "file", "b.txt", "text/plain", "b")

	items, err := store.ListBySubmission(context.Background(), "sub-2")
	if err != nil {
		t.Fatalf("ListBySubmission: %v", err)
	}
	if len(items) != 1 || items[0].FileName != "b.txt" {
		t.Errorf("unexpected list result: %+v", items)
	}
}
