// Package blobstore holds job input and output artifacts under opaque
// storage keys. The rest of the system never interprets a key beyond
// passing it along.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store is the blob storage seam
type Store interface {
	// Put stores the content and returns its opaque key.
	Put(ctx context.Context, userID, folder, filename string, r io.Reader) (string, error)
	// Get opens the content behind a key. The caller closes it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// DiskStore keeps blobs on the local filesystem under
// {root}/{folder}/{userID}/{uuid}{ext}.
type DiskStore struct {
	root   string
	logger *slog.Logger
}

// NewDiskStore creates the blob root if needed
func NewDiskStore(root string, logger *slog.Logger) (*DiskStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob store root: %w", err)
	}
	return &DiskStore{root: root, logger: logger}, nil
}

// Put stores r and returns the generated key
func (s *DiskStore) Put(_ context.Context, userID, folder, filename string, r io.Reader) (string, error) {
	ext := filepath.Ext(filename)
	key := filepath.Join(folder, userID, uuid.New().String()+ext)

	path := filepath.Join(s.root, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create blob file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	s.logger.Debug("Blob stored",
		slog.String("key", key),
	)

	return key, nil
}

// Get opens the blob behind a key. Keys arrive from stored metadata, so
// a key that resolves outside the blob root is rejected rather than
// followed.
func (s *DiskStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	root := filepath.Clean(s.root)
	if path == root || !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return nil, fmt.Errorf("invalid blob key %q", key)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", key, err)
	}
	return f, nil
}
