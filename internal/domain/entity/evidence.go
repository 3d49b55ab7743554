package entity

import "time"

// Evidence row states
const (
	EvidenceStateStaged = "STAGED" // row committed, file still in the staging area
	EvidenceStateStored = "STORED" // file moved to permanent storage
)

// EvidenceFile is an uploaded photo or document tied to a stage detail
type EvidenceFile struct {
	ID             int64      `json:"id"`
	DetailID       int64      `json:"detail_id"`
	Stage          StageKey   `json:"stage_key"`
	PurchaseID     string     `json:"purchase_id"`
	FileName       string     `json:"file_name"`
	FilePath       string     `json:"file_path"`
	StagedPath     string     `json:"-"`
	Classification string     `json:"classification,omitempty"`
	State          string     `json:"state"`
	CreatedAt      time.Time  `json:"created_at"`
	StoredAt       *time.Time `json:"stored_at,omitempty"`
}

// IsStored returns true once the file lives at FilePath
func (f *EvidenceFile) IsStored() bool {
	return f.State == EvidenceStateStored
}

// CurrentPath returns where the physical file is expected to be right now
func (f *EvidenceFile) CurrentPath() string {
	if f.IsStored() {
		return f.FilePath
	}
	return f.StagedPath
}

// StagedUpload describes a file the upload layer already wrote to staging
type StagedUpload struct {
	StagedPath     string `json:"staged_path"`
	OriginalName   string `json:"original_name"`
	Classification string `json:"field_classification"`
}
