package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
	"lanlink/pkg/optimize"
	"lanlink/pkg/validation"
)

const (
	copyBufferSize = 256 << 10
	chunkFormat    = "chunk_%06d"
	partialPrefix  = ".partial-"
)

// FileChunkStore keeps one directory per upload under tempDir and merged
// files under completedDir.
type FileChunkStore struct {
	tempDir      string
	completedDir string
	buffers      *optimize.BytePool
}

// NewFileChunkStore creates tempDir and completedDir if needed.
func NewFileChunkStore(tempDir, completedDir string) (*FileChunkStore, error) {
	for _, dir := range []string{tempDir, completedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}

	return &FileChunkStore{
		tempDir:      tempDir,
		completedDir: completedDir,
		buffers:      optimize.NewBytePool(copyBufferSize),
	}, nil
}

var _ ports.ChunkStore = (*FileChunkStore)(nil)

func (s *FileChunkStore) sessionDir(fileID string) string {
	return filepath.Join(s.tempDir, fileID)
}

// ChunkPath is the on-disk location of one chunk. The zero padded index keeps
// lexical and numeric order identical.
func (s *FileChunkStore) ChunkPath(fileID string, index int) string {
	return filepath.Join(s.sessionDir(fileID), fmt.Sprintf(chunkFormat, index))
}

// Prepare creates the chunk directory for fileID.
func (s *FileChunkStore) Prepare(ctx context.Context, fileID string) error {
	if err := validation.ValidateFileID(fileID); err != nil {
		return err
	}
	if err := os.MkdirAll(s.sessionDir(fileID), 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}
	return nil
}

// Put stores a chunk through a temp file and rename, so a duplicate delivery
// of the same index replaces the chunk whole. maxBytes <= 0 means no limit.
func (s *FileChunkStore) Put(ctx context.Context, fileID string, index int, r io.Reader, maxBytes int64) (int64, error) {
	if err := validation.ValidateFileID(fileID); err != nil {
		return 0, err
	}
	if index < 0 {
		return 0, domain.ErrInvalidChunkIndex
	}

	dir := s.sessionDir(fileID)
	tmp, err := os.CreateTemp(dir, partialPrefix+"*")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, domain.ErrSessionNotFound
		}
		return 0, fmt.Errorf("failed to create chunk file: %w", err)
	}
	tmpName := tmp.Name()

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}

	n, err := s.buffers.Copy(tmp, src)
	closeErr := tmp.Close()
	switch {
	case err != nil:
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to write chunk %d: %w", index, err)
	case closeErr != nil:
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to close chunk %d: %w", index, closeErr)
	case maxBytes > 0 && n > maxBytes:
		os.Remove(tmpName)
		return 0, domain.ErrChunkTooLarge
	}

	if err := os.Rename(tmpName, s.ChunkPath(fileID, index)); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to store chunk %d: %w", index, err)
	}
	return n, nil
}

// MergeInOrder concatenates chunks 0..totalChunks-1 into dst.
func (s *FileChunkStore) MergeInOrder(ctx context.Context, fileID string, totalChunks int, dst io.Writer) (int64, error) {
	if err := validation.ValidateFileID(fileID); err != nil {
		return 0, err
	}

	var total int64
	for i := 0; i < totalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := s.appendChunk(fileID, i, dst)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *FileChunkStore) appendChunk(fileID string, index int, dst io.Writer) (int64, error) {
	f, err := os.Open(s.ChunkPath(fileID, index))
	if errors.Is(err, os.ErrNotExist) {
		return 0, &domain.MissingChunkError{Index: index}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open chunk %d: %w", index, err)
	}
	defer f.Close()

	n, err := s.buffers.Copy(dst, f)
	if err != nil {
		return n, fmt.Errorf("failed to merge chunk %d: %w", index, err)
	}
	return n, nil
}

// Discard removes the upload directory. Missing directories are not an error.
func (s *FileChunkStore) Discard(ctx context.Context, fileID string) error {
	if err := validation.ValidateFileID(fileID); err != nil {
		return err
	}
	if err := os.RemoveAll(s.sessionDir(fileID)); err != nil {
		return fmt.Errorf("failed to discard upload %s: %w", fileID, err)
	}
	return nil
}

func (s *FileChunkStore) completedPath(name string) (string, error) {
	if err := validation.ValidateStoredName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.completedDir, name), nil
}

// CreateCompleted returns a writer that becomes visible under name only
// after Commit.
func (s *FileChunkStore) CreateCompleted(ctx context.Context, name string) (ports.CompletedWriter, error) {
	final, err := s.completedPath(name)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(s.completedDir, partialPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create completed file: %w", err)
	}
	return &completedFile{File: f, final: final}, nil
}

// OpenCompleted opens a completed file; a missing file is ErrFileNotFound.
func (s *FileChunkStore) OpenCompleted(ctx context.Context, name string) (*os.File, os.FileInfo, error) {
	path, err := s.completedPath(name)
	if err != nil {
		return nil, nil, domain.ErrFileNotFound
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, domain.ErrFileNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open completed file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat completed file: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, domain.ErrFileNotFound
	}
	return f, info, nil
}

// HealthCheck verifies both directories are writable.
func (s *FileChunkStore) HealthCheck(ctx context.Context) error {
	for _, dir := range []string{s.tempDir, s.completedDir} {
		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return fmt.Errorf("storage directory %s not writable: %w", dir, err)
		}
		name := f.Name()
		f.Close()
		os.Remove(name)
	}
	return nil
}

type completedFile struct {
	*os.File
	final string
	done  bool
}

// Commit closes the file and renames it into place.
func (c *completedFile) Commit() error {
	if c.done {
		return nil
	}
	c.done = true

	if err := c.File.Close(); err != nil {
		os.Remove(c.File.Name())
		return fmt.Errorf("failed to close completed file: %w", err)
	}
	if err := os.Rename(c.File.Name(), c.final); err != nil {
		os.Remove(c.File.Name())
		return fmt.Errorf("failed to publish completed file: %w", err)
	}
	return nil
}

// Abort closes and removes the partial file.
func (c *completedFile) Abort() error {
	if c.done {
		return nil
	}
	c.done = true

	c.File.Close()
	if err := os.Remove(c.File.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
