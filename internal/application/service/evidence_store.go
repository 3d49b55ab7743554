package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/garyjia/shipment-workflow/internal/application/port"
	"github.com/garyjia/shipment-workflow/internal/domain/entity"
	"github.com/garyjia/shipment-workflow/internal/domain/failure"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Resolutions recorded on evidence problems
const (
	ResolutionKeptStaged     = "kept_staged"      // row stays STAGED, staged file still present, retryable
	ResolutionRowDeleted     = "row_deleted"      // neither file exists any more, row removed
	ResolutionRowKept        = "row_kept"         // row could not be deleted
	ResolutionFileLeftBehind = "file_left_behind" // physical file is not where its row points
)

// EvidenceStore couples evidence rows with their physical files. Rows are
// written as STAGED inside the transition transaction; files only move after commit.
type EvidenceStore interface {
	// CheckUploads verifies every staged upload exists inside the staging area
	CheckUploads(ctx context.Context, stage entity.StageKey, uploads []entity.StagedUpload) error

	// AttachStaged writes STAGED rows for uploads. Runs inside the transaction.
	AttachStaged(ctx context.Context, stage entity.StageKey, detailID int64, purchaseID string, uploads []entity.StagedUpload) ([]*entity.EvidenceFile, error)

	// ApplyMoves moves staged files to permanent storage and marks rows STORED.
	// Problems are aggregated into one *failure.EvidenceConsistencyError.
	ApplyMoves(ctx context.Context, stage entity.StageKey, files []*entity.EvidenceFile) error

	// DiscardStaged deletes the staged files of a failed transition
	DiscardStaged(ctx context.Context, uploads []entity.StagedUpload)

	// RemoveFiles deletes every file of the detail not listed in keepIDs
	RemoveFiles(ctx context.Context, stage entity.StageKey, detailID int64, keepIDs []int64) error

	// Reconcile retries moves of rows left STAGED for longer than minAge
	Reconcile(ctx context.Context, limit int, minAge time.Duration) (*ReconcileResult, error)
}

// ReconcileResult summarizes a reconciliation pass
type ReconcileResult struct {
	Scanned  int
	Stored   int
	Deleted  int
	Problems []failure.EvidenceProblem
}

// EvidenceStoreConfig tunes the file phase
type EvidenceStoreConfig struct {
	FileConcurrency int
}

type evidenceStoreImpl struct {
	evidenceRepo port.EvidenceRepository
	storage      port.FileStorage
	folders      port.FolderManager
	concurrency  int
	logger       Logger
}

// NewEvidenceStore creates a new EvidenceStore
func NewEvidenceStore(
	evidenceRepo port.EvidenceRepository,
	storage port.FileStorage,
	folders port.FolderManager,
	cfg EvidenceStoreConfig,
	logger Logger,
) EvidenceStore {
	if cfg.FileConcurrency <= 0 {
		cfg.FileConcurrency = 4
	}
	return &evidenceStoreImpl{
		evidenceRepo: evidenceRepo,
		storage:      storage,
		folders:      folders,
		concurrency:  cfg.FileConcurrency,
		logger:       orNop(logger),
	}
}

func (s *evidenceStoreImpl) CheckUploads(ctx context.Context, stage entity.StageKey, uploads []entity.StagedUpload) error {
	var invalid []string
	for i, u := range uploads {
		staged, err := s.folders.StagingPath(u.StagedPath)
		if err != nil || !s.storage.Exists(ctx, staged) {
			invalid = append(invalid, fmt.Sprintf("files[%d].staged_path", i))
		}
	}
	if len(invalid) > 0 {
		return &failure.ValidationError{
			Stage:  stage,
			Reason: failure.ReasonValidationFailed,
			Fields: invalid,
			Detail: "staged file missing or outside the staging area",
		}
	}
	return nil
}

func (s *evidenceStoreImpl) AttachStaged(ctx context.Context, stage entity.StageKey, detailID int64, purchaseID string, uploads []entity.StagedUpload) ([]*entity.EvidenceFile, error) {
	if len(uploads) == 0 {
		return nil, nil
	}

	// fail inside the transaction when no permanent folder can be derived
	if _, err := s.folders.EvidenceFolder(stage, purchaseID); err != nil {
		return nil, err
	}

	files := make([]*entity.EvidenceFile, 0, len(uploads))
	for _, u := range uploads {
		staged, err := s.folders.StagingPath(u.StagedPath)
		if err != nil {
			return nil, err
		}

		name := u.OriginalName
		if name == "" {
			name = filepath.Base(staged)
		}
		name = s.folders.SanitizeFileName(name)

		file := &entity.EvidenceFile{
			DetailID:       detailID,
			Stage:          stage,
			PurchaseID:     purchaseID,
			FileName:       name,
			StagedPath:     staged,
			Classification: u.Classification,
			State:          entity.EvidenceStateStaged,
		}
		if err := s.evidenceRepo.Create(ctx, file); err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	return files, nil
}

func (s *evidenceStoreImpl) ApplyMoves(ctx context.Context, stage entity.StageKey, files []*entity.EvidenceFile) error {
	if len(files) == 0 {
		return nil
	}

	var (
		mu       sync.Mutex
		problems []failure.EvidenceProblem
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, file := range files {
		file := file
		g.Go(func() error {
			if p := s.store(gctx, file); p != nil {
				mu.Lock()
				problems = append(problems, *p)
				mu.Unlock()
			}
			// one failed file must not cancel the others
			return nil
		})
	}
	_ = g.Wait()

	if len(problems) == 0 {
		return nil
	}

	s.logger.Error("Evidence files inconsistent after commit",
		"stage_key", stage,
		"problem_count", len(problems),
	)
	return &failure.EvidenceConsistencyError{Stage: stage, Problems: problems}
}

// store moves one STAGED file into place and flips its row to STORED. The
// destination is written to the row before the file moves, so a row whose
// staged file is gone but whose destination exists is only flipped. A row
// with neither file is deleted. If the row cannot be flipped the file is
// moved back so the row stays consistent.
func (s *evidenceStoreImpl) store(ctx context.Context, file *entity.EvidenceFile) *failure.EvidenceProblem {
	if file.IsStored() {
		return nil
	}

	problem := func(resolution string, err error) *failure.EvidenceProblem {
		return &failure.EvidenceProblem{
			EvidenceID: file.ID,
			Path:       file.StagedPath,
			Action:     "move",
			Resolution: resolution,
			Err:        err,
		}
	}

	if err := ctx.Err(); err != nil {
		return problem(ResolutionKeptStaged, err)
	}

	if !s.storage.Exists(ctx, file.StagedPath) {
		if file.FilePath != "" && s.storage.Exists(ctx, file.FilePath) {
			if err := s.markStored(ctx, file, file.FilePath); err != nil {
				p := problem(ResolutionKeptStaged, err)
				p.Path = file.FilePath
				return p
			}
			return nil
		}

		missing := fmt.Errorf("staged file %s: %w", file.StagedPath, fs.ErrNotExist)
		if err := s.evidenceRepo.Delete(ctx, file.Stage, file.ID); err != nil {
			return problem(ResolutionRowKept, errors.Join(missing, err))
		}
		return problem(ResolutionRowDeleted, missing)
	}

	folder, err := s.folders.EnsureEvidenceFolder(ctx, file.Stage, file.PurchaseID)
	if err != nil {
		return problem(ResolutionKeptStaged, err)
	}

	dst := file.FilePath
	if dst == "" {
		dst = filepath.Join(folder, file.FileName)
	}
	err = s.moveTo(ctx, file, dst)
	if errors.Is(err, fs.ErrExist) {
		dst = filepath.Join(folder, uuid.NewString()[:8]+"_"+file.FileName)
		err = s.moveTo(ctx, file, dst)
	}
	if err != nil {
		s.logger.Warn("Failed to move evidence file",
			"evidence_id", file.ID,
			"staged_path", file.StagedPath,
			"error", err,
		)
		return problem(ResolutionKeptStaged, err)
	}

	if err := s.markStored(ctx, file, dst); err != nil {
		undoCtx := context.WithoutCancel(ctx)
		if undoErr := s.storage.Move(undoCtx, dst, file.StagedPath); undoErr != nil {
			p := problem(ResolutionFileLeftBehind, errors.Join(err, undoErr))
			p.Path = dst
			return p
		}
		// the file is back in staging, dst may be claimed by another row
		if clearErr := s.evidenceRepo.SetTarget(undoCtx, file.Stage, file.ID, ""); clearErr != nil {
			s.logger.Warn("Failed to clear evidence target", "evidence_id", file.ID, "error", clearErr)
		} else {
			file.FilePath = ""
		}
		return problem(ResolutionKeptStaged, err)
	}
	return nil
}

// moveTo records dst on the row, then moves the staged file there. A dst
// already taken is never recorded.
func (s *evidenceStoreImpl) moveTo(ctx context.Context, file *entity.EvidenceFile, dst string) error {
	if s.storage.Exists(ctx, dst) {
		return fmt.Errorf("evidence destination %s: %w", dst, fs.ErrExist)
	}
	if file.FilePath != dst {
		if err := s.evidenceRepo.SetTarget(ctx, file.Stage, file.ID, dst); err != nil {
			return err
		}
		file.FilePath = dst
	}
	return s.storage.Move(ctx, file.StagedPath, dst)
}

func (s *evidenceStoreImpl) markStored(ctx context.Context, file *entity.EvidenceFile, dst string) error {
	if err := s.evidenceRepo.MarkStored(ctx, file.Stage, file.ID, dst); err != nil {
		return err
	}
	now := time.Now().UTC()
	file.FilePath = dst
	file.State = entity.EvidenceStateStored
	file.StoredAt = &now
	return nil
}

func (s *evidenceStoreImpl) DiscardStaged(ctx context.Context, uploads []entity.StagedUpload) {
	for _, u := range uploads {
		staged, err := s.folders.StagingPath(u.StagedPath)
		if err != nil {
			continue
		}
		if err := s.storage.Delete(ctx, staged); err != nil {
			s.logger.Warn("Failed to discard staged file", "staged_path", staged, "error", err)
		}
	}
}

func (s *evidenceStoreImpl) RemoveFiles(ctx context.Context, stage entity.StageKey, detailID int64, keepIDs []int64) error {
	files, err := s.evidenceRepo.ListByDetail(ctx, stage, detailID)
	if err != nil {
		return err
	}

	keep := make(map[int64]bool, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = true
	}

	var problems []failure.EvidenceProblem
	for _, file := range files {
		if keep[file.ID] {
			continue
		}

		var fileErrs []error
		for _, p := range removalPaths(file) {
			if err := s.storage.Delete(ctx, p); err != nil {
				fileErrs = append(fileErrs, err)
			}
		}

		// the row goes even when the file could not be removed
		if err := s.evidenceRepo.Delete(ctx, stage, file.ID); err != nil {
			problems = append(problems, failure.EvidenceProblem{
				EvidenceID: file.ID,
				Path:       file.CurrentPath(),
				Action:     "delete",
				Resolution: ResolutionRowKept,
				Err:        errors.Join(append(fileErrs, err)...),
			})
			continue
		}
		if len(fileErrs) > 0 {
			problems = append(problems, failure.EvidenceProblem{
				EvidenceID: file.ID,
				Path:       file.CurrentPath(),
				Action:     "delete",
				Resolution: ResolutionFileLeftBehind,
				Err:        errors.Join(fileErrs...),
			})
		}

		s.logger.Info("Evidence file removed",
			"stage_key", stage,
			"detail_id", detailID,
			"evidence_id", file.ID,
		)
	}

	if len(problems) > 0 {
		return &failure.EvidenceConsistencyError{Stage: stage, Problems: problems}
	}
	return nil
}

// removalPaths lists every location the file of the row may occupy. A STAGED
// row may already have been moved to its recorded destination.
func removalPaths(file *entity.EvidenceFile) []string {
	if file.IsStored() {
		return []string{file.FilePath}
	}
	paths := make([]string, 0, 2)
	for _, p := range []string{file.StagedPath, file.FilePath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func (s *evidenceStoreImpl) Reconcile(ctx context.Context, limit int, minAge time.Duration) (*ReconcileResult, error) {
	result := &ReconcileResult{}
	cutoff := time.Now().UTC().Add(-minAge)

	for _, stage := range entity.AllStages {
		files, err := s.evidenceRepo.ListStaged(ctx, stage, cutoff, limit)
		if err != nil {
			return result, err
		}

		for _, file := range files {
			result.Scanned++
			p := s.store(ctx, file)
			switch {
			case p == nil:
				result.Stored++
			case p.Resolution == ResolutionRowDeleted:
				result.Deleted++
				result.Problems = append(result.Problems, *p)
			default:
				result.Problems = append(result.Problems, *p)
			}
		}

		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	if result.Scanned > 0 {
		s.logger.Info("Evidence reconciled",
			"scanned", result.Scanned,
			"stored", result.Stored,
			"deleted", result.Deleted,
			"pending", len(result.Problems)-result.Deleted,
		)
	}
	return result, nil
}
