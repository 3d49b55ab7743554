package port

import (
	"context"

	"github.com/garyjia/shipment-workflow/internal/domain/entity"
)

// FileStorage defines file storage operations. Paths are relative to the storage root.
// Move never overwrites: it fails with an error matching fs.ErrExist.
type FileStorage interface {
	Move(ctx context.Context, src, dst string) error
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
	GetFullPath(relativePath string) string
}

// FolderManager lays out the staging area and the permanent evidence tree
type FolderManager interface {
	// StagingPath resolves an upload-relative path inside the staging area
	StagingPath(stagedPath string) (string, error)

	// EvidenceFolder computes {evidence}/{stage}/{purchase} without touching the disk
	EvidenceFolder(stage entity.StageKey, purchaseID string) (string, error)

	// EnsureEvidenceFolder creates {evidence}/{stage}/{purchase} and returns it
	EnsureEvidenceFolder(ctx context.Context, stage entity.StageKey, purchaseID string) (string, error)

	// SanitizeName makes a single path segment safe (no separators, no dots)
	SanitizeName(name string) string

	// SanitizeFileName is SanitizeName that keeps the extension
	SanitizeFileName(name string) string
}
