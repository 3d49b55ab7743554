package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/garyjia/shipment-workflow/internal/application/port"
	"github.com/garyjia/shipment-workflow/internal/domain/entity"
	"go.uber.org/zap"
)

var (
	unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)
	unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)
)

// LocalFolderManager lays out {staging} and {evidence}/{stage}/{purchase}
// under the storage base directory. Returned paths are relative to it.
type LocalFolderManager struct {
	baseDir     string
	stagingDir  string
	evidenceDir string
	logger      *zap.Logger
}

// NewLocalFolderManager creates a new LocalFolderManager
func NewLocalFolderManager(baseDir, stagingDir, evidenceDir string, logger *zap.Logger) *LocalFolderManager {
	return &LocalFolderManager{
		baseDir:     baseDir,
		stagingDir:  filepath.Clean(stagingDir),
		evidenceDir: filepath.Clean(evidenceDir),
		logger:      logger,
	}
}

// StagingPath resolves a path reported by the upload layer. It must stay
// inside the staging area.
func (m *LocalFolderManager) StagingPath(stagedPath string) (string, error) {
	if stagedPath == "" || filepath.IsAbs(stagedPath) {
		return "", fmt.Errorf("invalid staged path: %q", stagedPath)
	}
	cleaned := filepath.Clean(filepath.FromSlash(stagedPath))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("staged path escapes staging area: %s", stagedPath)
	}
	return filepath.Join(m.stagingDir, cleaned), nil
}

// EvidenceFolder returns the relative stage/purchase folder without creating it
func (m *LocalFolderManager) EvidenceFolder(stage entity.StageKey, purchaseID string) (string, error) {
	safePurchase := m.SanitizeName(purchaseID)
	if !stage.IsValid() || safePurchase == "" {
		return "", fmt.Errorf("no evidence folder for stage %q purchase %q", stage, purchaseID)
	}
	return filepath.Join(m.evidenceDir, stage.String(), safePurchase), nil
}

// EnsureEvidenceFolder creates the stage/purchase folder and returns its relative path
func (m *LocalFolderManager) EnsureEvidenceFolder(ctx context.Context, stage entity.StageKey, purchaseID string) (string, error) {
	rel, err := m.EvidenceFolder(stage, purchaseID)
	if err != nil {
		return "", err
	}

	full := filepath.Join(m.baseDir, rel)
	if err := os.MkdirAll(full, 0755); err != nil {
		m.logger.Error("Failed to create folder",
			zap.String("folder_path", full),
			zap.Error(err))
		return "", fmt.Errorf("failed to create folder: %w", err)
	}

	return rel, nil
}

// SanitizeName returns a filesystem-safe version of the name.
// Removes path separators and special characters to prevent directory traversal.
func (m *LocalFolderManager) SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")
	return unsafeNameChars.ReplaceAllString(name, "")
}

// SanitizeFileName keeps dots so the extension survives, but never a leading
// dot or a ".." sequence
func (m *LocalFolderManager) SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFileChars.ReplaceAllString(name, "_")
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "file"
	}
	return name
}

// Verify interface compliance
var _ port.FolderManager = (*LocalFolderManager)(nil)
