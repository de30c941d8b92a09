package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	GenerationStatusQueued     = "queued"
	GenerationStatusProcessing = "processing"
	GenerationStatusSucceeded  = "succeeded"
	GenerationStatusFailed     = "failed"
	GenerationStatusExpired    = "expired"
)

// Generation is one try-on request. Snapshot paths are write-once; once a
// terminal status is stored, only rating fields may change.
type Generation struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Status string `gorm:"column:status;not null;index" json:"status"` // queued|processing|succeeded|failed|expired

	PersonaSnapshotPath string `gorm:"column:persona_snapshot_path;not null" json:"persona_snapshot_path"`
	GarmentSnapshotPath string `gorm:"column:garment_snapshot_path;not null" json:"garment_snapshot_path"`

	VertexJobID *string `gorm:"column:vertex_job_id;index" json:"vertex_job_id,omitempty"`
	ETASeconds  int     `gorm:"column:eta_seconds;not null;default:0" json:"eta_seconds"`

	CreatedAt   time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	ExpiresAt   time.Time  `gorm:"column:expires_at;not null;index" json:"expires_at"`

	ErrorReason *string `gorm:"column:error_reason" json:"error_reason,omitempty"`
	ResultPath  *string `gorm:"column:result_path" json:"result_path,omitempty"`

	Rating  *int       `gorm:"column:rating" json:"rating,omitempty"`
	RatedAt *time.Time `gorm:"column:rated_at" json:"rated_at,omitempty"`

	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`

	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Generation) TableName() string { return "generation" }

// TerminalStatus reports whether s permits no further transitions.
func TerminalStatus(s string) bool {
	switch s {
	case GenerationStatusSucceeded, GenerationStatusFailed, GenerationStatusExpired:
		return true
	default:
		return false
	}
}

func (g *Generation) Terminal() bool {
	return g != nil && TerminalStatus(g.Status)
}
