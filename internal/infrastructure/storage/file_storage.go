package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/garyjia/shipment-workflow/internal/application/port"
	"go.uber.org/zap"
)

// LocalFileStorage implements port.FileStorage for local filesystem
type LocalFileStorage struct {
	baseDir string
	logger  *zap.Logger
}

// NewLocalFileStorage creates a new LocalFileStorage
func NewLocalFileStorage(baseDir string, logger *zap.Logger) *LocalFileStorage {
	return &LocalFileStorage{
		baseDir: baseDir,
		logger:  logger,
	}
}

// Move relocates src to dst without overwriting an existing dst. Parent
// directories of dst are created. Moves across filesystems fall back to copy
// and remove.
func (s *LocalFileStorage) Move(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	srcPath := s.GetFullPath(src)
	dstPath := s.GetFullPath(dst)
	if err := s.validatePath(srcPath); err != nil {
		return err
	}
	if err := s.validatePath(dstPath); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		s.logger.Error("Failed to create parent directories",
			zap.String("path", filepath.Dir(dstPath)),
			zap.Error(err))
		return fmt.Errorf("failed to create directories: %w", err)
	}

	// link fails with EEXIST instead of replacing dst the way rename would
	err := os.Link(srcPath, dstPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrExist):
		return fmt.Errorf("move %s: %w", dst, os.ErrExist)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("move %s: %w", src, os.ErrNotExist)
	case errors.Is(err, syscall.EXDEV), errors.Is(err, syscall.EPERM), errors.Is(err, syscall.ENOTSUP):
		if err := s.copyExclusive(ctx, srcPath, dstPath); err != nil {
			return err
		}
	default:
		s.logger.Error("Failed to move file",
			zap.String("src", srcPath),
			zap.String("dst", dstPath),
			zap.Error(err))
		return fmt.Errorf("failed to move file: %w", err)
	}

	if err := os.Remove(srcPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Moved file but could not remove source",
			zap.String("src", srcPath),
			zap.Error(err))
	}

	s.logger.Debug("File moved successfully",
		zap.String("src", srcPath),
		zap.String("dst", dstPath))

	return nil
}

func (s *LocalFileStorage) copyExclusive(ctx context.Context, srcPath, dstPath string) (err error) {
	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close destination: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(dstPath)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return ctx.Err()
}

// Exists checks if a file exists at the specified relative path
func (s *LocalFileStorage) Exists(ctx context.Context, path string) bool {
	fullPath := s.GetFullPath(path)
	if s.validatePath(fullPath) != nil {
		return false
	}
	_, err := os.Stat(fullPath)
	return err == nil
}

// Delete removes a file at the specified relative path.
// Deleting a missing file succeeds.
func (s *LocalFileStorage) Delete(ctx context.Context, path string) error {
	fullPath := s.GetFullPath(path)

	if err := s.validatePath(fullPath); err != nil {
		return err
	}

	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(fullPath); err != nil {
		s.logger.Error("Failed to delete file",
			zap.String("path", fullPath),
			zap.Error(err))
		return fmt.Errorf("failed to delete file: %w", err)
	}

	s.logger.Debug("File deleted successfully",
		zap.String("path", fullPath))

	return nil
}

// GetFullPath converts a relative path to full path
func (s *LocalFileStorage) GetFullPath(relativePath string) string {
	return filepath.Join(s.baseDir, relativePath)
}

// validatePath checks that the path is safe and within baseDir
func (s *LocalFileStorage) validatePath(fullPath string) error {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s", fullPath)
	}

	return nil
}

// Verify interface compliance
var _ port.FileStorage = (*LocalFileStorage)(nil)
