// Package blob is the opaque, UUID-keyed binary store for avatar files. Each
// player has at most one stored avatar, named "<uuid>.moon" on disk; writes
// are atomic (temp file + rename) and every write records a sha256 hash in
// the metadata store so the profile JSON can surface it.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"cosmowire/server/internal/store"
)

const defaultContentType = "application/octet-stream"
const avatarExt = ".moon"

// Store coordinates avatar bytes on disk with metadata in sqlite.
type Store struct {
	rootDir string
	meta    *store.Store
}

// OpenResult is a blob metadata + opened file stream tuple.
type OpenResult struct {
	Metadata store.BlobMetadata
	File     *os.File
}

// NewStore creates an avatar blob store rooted at rootDir (the
// AVATARS_FOLDER environment variable, per the external-interfaces schema).
func NewStore(rootDir string, meta *store.Store) (*Store, error) {
	rootDir = strings.TrimSpace(rootDir)
	if rootDir == "" {
		return nil, fmt.Errorf("blob: root directory is required")
	}
	if meta == nil {
		return nil, fmt.Errorf("blob: sqlite metadata store is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create avatar directory: %w", err)
	}
	slog.Debug("blob store initialized", "dir", rootDir)
	return &Store{rootDir: rootDir, meta: meta}, nil
}

func (s *Store) path(id uuid.UUID) string {
	return filepath.Join(s.rootDir, id.String()+avatarExt)
}

// Put writes r's bytes as id's avatar, atomically, and records metadata.
// Put itself reads r to the end without a size limit; enforcement of
// limitations.maxAvatarSize is the caller's responsibility via
// http.MaxBytesReader, matching the
// teacher's own upload-handler layering.
func (s *Store) Put(ctx context.Context, id uuid.UUID, contentType string, r io.Reader) (store.BlobMetadata, error) {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = defaultContentType
	}

	tempFile, err := os.CreateTemp(s.rootDir, ".avatar-write-*")
	if err != nil {
		return store.BlobMetadata{}, fmt.Errorf("blob: create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	hasher := sha256.New()
	size, copyErr := io.Copy(io.MultiWriter(tempFile, hasher), r)
	closeErr := tempFile.Close()
	if copyErr != nil {
		_ = os.Remove(tempPath)
		return store.BlobMetadata{}, fmt.Errorf("blob: write bytes: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		return store.BlobMetadata{}, fmt.Errorf("blob: close temp file: %w", closeErr)
	}

	finalPath := s.path(id)
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return store.BlobMetadata{}, fmt.Errorf("blob: move into place: %w", err)
	}

	meta := store.BlobMetadata{
		UUID:        id,
		Hash:        hex.EncodeToString(hasher.Sum(nil)),
		ContentType: contentType,
		SizeBytes:   size,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.meta.UpsertBlob(ctx, meta); err != nil {
		_ = os.Remove(finalPath)
		return store.BlobMetadata{}, fmt.Errorf("blob: persist metadata: %w", err)
	}

	slog.Info("avatar stored", "uuid", id, "size", size, "hash", meta.Hash)
	return meta, nil
}

// Open resolves id's metadata and opens its on-disk file.
func (s *Store) Open(ctx context.Context, id uuid.UUID) (OpenResult, error) {
	meta, err := s.meta.BlobByUUID(ctx, id)
	if err != nil {
		return OpenResult{}, err
	}

	f, err := os.Open(s.path(id))
	if err != nil {
		slog.Error("avatar file open failed", "uuid", id, "err", err)
		return OpenResult{}, fmt.Errorf("blob: open file: %w", err)
	}
	return OpenResult{Metadata: meta, File: f}, nil
}

// Delete removes both the on-disk file and its metadata row. Missing files
// are not treated as an error: deleting an already-deleted avatar is a
// no-op, matching DELETE /api/avatar's idempotent contract.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob: remove file: %w", err)
	}
	return s.meta.DeleteBlob(ctx, id)
}
