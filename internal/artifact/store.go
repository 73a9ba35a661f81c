// Package artifact provides content-addressed blob storage for documents,
// templates, datasets and generated outputs. Storage ids are derived from
// the content hash, so the store is append-only: an id's bytes never change.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/CoderFake/document-processing-system/internal/job"
)

var ErrNotFound = errors.New("artifact: not found")

// Store is the minimal object-store contract the pipeline depends on.
// No update or delete: retention is an external concern.
type Store interface {
	// Put writes the blob and returns a reference whose StorageID and
	// ContentHash are derived from the bytes. The Role field is left empty
	// for the caller to assign.
	Put(ctx context.Context, data []byte) (job.ArtifactRef, error)

	// Get reads the blob for a storage id, or ErrNotFound.
	Get(ctx context.Context, storageID string) ([]byte, error)
}

// HashID computes the content-addressed storage id for a blob.
func HashID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Materialize downloads an artifact into dir as a regular file and returns
// its path. The caller owns dir and removes it wholesale when the attempt
// ends, so no per-file cleanup closure is needed.
func Materialize(ctx context.Context, s Store, ref job.ArtifactRef, dir string) (string, error) {
	data, err := s.Get(ctx, ref.StorageID)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", ref.StorageID, err)
	}
	name := ref.Role
	if name == "" {
		name = "input"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s", name, shortID(ref.StorageID)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s to disk: %w", ref.StorageID, err)
	}
	return path, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
