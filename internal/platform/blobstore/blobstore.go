// Package blobstore stores submission attachments: uploaded files,
// signature images, and barcode scan snapshots. It defines the Store
// interface, an in-memory implementation for tests, and a disk-backed
// implementation rooted at the configured upload directory.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound    = errors.New("blob not found")
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrTypeNotAccepted = errors.New("file type is not accepted")
	ErrMissingFileName = errors.New("file name is required")
)

// DefaultMaxFileSize caps uploads when a component sets no limit of its own.
const DefaultMaxFileSize = 20 * 1024 * 1024

// BlobMetadata describes a stored attachment.
type BlobMetadata struct {
	ID           string    `json:"id"`
	FileName     string    `json:"file_name"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	SubmissionID string    `json:"submission_id,omitempty"`
	ComponentKey string    `json:"component_key,omitempty"`
	Hash         string    `json:"hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// UploadLimits carries the per-component constraints applied during upload.
type UploadLimits struct {
	// MaxBytes caps the content size; zero falls back to DefaultMaxFileSize.
	MaxBytes int64
	// Accept holds accept tokens in HTML input form: ".ext" suffixes,
	// "type/*" wildcards, or exact MIME types. Empty accepts everything.
	Accept []string
}

// Store is the contract for attachment storage backends.
type Store interface {
	Upload(ctx context.Context, meta BlobMetadata, limits UploadLimits, content io.Reader) (*BlobMetadata, error)
	Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error)
	Delete(ctx context.Context, id string) error
	GetMetadata(ctx context.Context, id string) (*BlobMetadata, error)
	ListBySubmission(ctx context.Context, submissionID string) ([]*BlobMetadata, error)
}

// Accepts reports whether a file name / content type pair satisfies the
// accept token list. Tokens follow the HTML file-input convention:
// ".pdf" matches by extension, "image/*" by type prefix, and anything
// else is compared as an exact MIME type. An empty list accepts all.
func Accepts(accept []string, fileName, contentType string) bool {
	if len(accept) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	for _, raw := range accept {
		tok := strings.ToLower(strings.TrimSpace(raw))
		if tok == "" {
			continue
		}
		switch {
		case strings.HasPrefix(tok, "."):
			if ext == tok {
				return true
			}
			// The client may omit or mangle the extension; fall back to
			// the MIME type registered for it.
			if mt := mime.TypeByExtension(tok); mt != "" {
				if base := strings.SplitN(mt, ";", 2)[0]; strings.TrimSpace(base) == ct {
					return true
				}
			}
		case strings.HasSuffix(tok, "/*"):
			if strings.HasPrefix(ct, strings.TrimSuffix(tok, "*")) {
				return true
			}
		default:
			if ct == tok {
				return true
			}
		}
	}
	return false
}

func readLimited(content io.Reader, limits UploadLimits) ([]byte, error) {
	max := limits.MaxBytes
	if max <= 0 {
		max = DefaultMaxFileSize
	}
	data, err := io.ReadAll(io.LimitReader(content, max+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > max {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

func finalizeMeta(meta *BlobMetadata, data []byte) {
	h := sha256.Sum256(data)
	meta.ID = uuid.New().String()
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", h)
	meta.CreatedAt = time.Now().UTC()
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// InMemoryStore is a thread-safe in-memory Store for tests and development.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string]*storedBlob)}
}

// Upload validates the name, type, and size, computes a SHA-256 hash, and
// stores the blob in memory.
func (s *InMemoryStore) Upload(_ context.Context, meta BlobMetadata, limits UploadLimits, content io.Reader) (*BlobMetadata, error) {
	if meta.FileName == "" {
		return nil, ErrMissingFileName
	}
	if !Accepts(limits.Accept, meta.FileName, meta.ContentType) {
		return nil, ErrTypeNotAccepted
	}

	data, err := readLimited(content, limits)
	if err != nil {
		return nil, err
	}
	finalizeMeta(&meta, data)

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *InMemoryStore) Download(_ context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

func (s *InMemoryStore) GetMetadata(_ context.Context, id string) (*BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return &meta, nil
}

func (s *InMemoryStore) ListBySubmission(_ context.Context, submissionID string) ([]*BlobMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*BlobMetadata
	for _, b := range s.blobs {
		if b.metadata.SubmissionID != submissionID {
			continue
		}
		m := b.metadata
		matched = append(matched, &m)
	}
	return matched, nil
}

// ---------------------------------------------------------------------------
// Disk-backed implementation
// ---------------------------------------------------------------------------

// DiskStore keeps blob content as files under a root directory, with a
// small in-memory metadata index. Content survives restarts; the index
// is rebuilt lazily from sidecar lookups done by ID, so metadata for
// blobs written by previous processes is not listed.
type DiskStore struct {
	root string

	mu   sync.RWMutex
	meta map[string]BlobMetadata
}

// NewDiskStore creates the root directory if needed and returns a DiskStore.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &DiskStore{root: root, meta: make(map[string]BlobMetadata)}, nil
}

func (s *DiskStore) path(id string) string {
	return filepath.Join(s.root, id)
}

func (s *DiskStore) Upload(_ context.Context, meta BlobMetadata, limits UploadLimits, content io.Reader) (*BlobMetadata, error) {
	if meta.FileName == "" {
		return nil, ErrMissingFileName
	}
	if !Accepts(limits.Accept, meta.FileName, meta.ContentType) {
		return nil, ErrTypeNotAccepted
	}

	data, err := readLimited(content, limits)
	if err != nil {
		return nil, err
	}
	finalizeMeta(&meta, data)

	if err := os.WriteFile(s.path(meta.ID), data, 0o644); err != nil {
		return nil, fmt.Errorf("writing blob: %w", err)
	}

	s.mu.Lock()
	s.meta[meta.ID] = meta
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *DiskStore) Download(_ context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	meta, ok := s.meta[id]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	f, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("opening blob: %w", err)
	}
	m := meta
	return f, &m, nil
}

func (s *DiskStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.meta[id]
	delete(s.meta, id)
	s.mu.Unlock()

	if !ok {
		return ErrBlobNotFound
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob: %w", err)
	}
	return nil
}

func (s *DiskStore) GetMetadata(_ context.Context, id string) (*BlobMetadata, error) {
	s.mu.RLock()
	meta, ok := s.meta[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBlobNotFound
	}
	m := meta
	return &m, nil
}

func (s *DiskStore) ListBySubmission(_ context.Context, submissionID string) ([]*BlobMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*BlobMetadata
	for _, m := range s.meta {
		if m.SubmissionID != submissionID {
			continue
		}
		mm := m
		matched = append(matched, &mm)
	}
	return matched, nil
}
