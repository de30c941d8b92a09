package types

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the per-user record the generation core reads and mutates.
// One row per user; never deleted by this backend.
type Profile struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`

	// Persona asset. Empty path means no persona uploaded yet.
	PersonaPath        string     `gorm:"column:persona_path" json:"persona_path"`
	PersonaWidth       int        `gorm:"column:persona_width" json:"persona_width"`
	PersonaHeight      int        `gorm:"column:persona_height" json:"persona_height"`
	PersonaContentType string     `gorm:"column:persona_content_type" json:"persona_content_type"`
	PersonaUpdatedAt   *time.Time `gorm:"column:persona_updated_at" json:"persona_updated_at,omitempty"`

	ConsentRequiredVersion string     `gorm:"column:consent_required_version;not null" json:"consent_required_version"`
	ConsentAcceptedVersion string     `gorm:"column:consent_accepted_version" json:"consent_accepted_version"`
	ConsentAcceptedAt      *time.Time `gorm:"column:consent_accepted_at" json:"consent_accepted_at,omitempty"`

	FreeGenerationTotal int        `gorm:"column:free_generation_total;not null;default:0" json:"free_generation_total"`
	FreeGenerationUsed  int        `gorm:"column:free_generation_used;not null;default:0" json:"free_generation_used"`
	QuotaRenewsAt       *time.Time `gorm:"column:quota_renews_at" json:"quota_renews_at,omitempty"`

	GarmentCachePath      string     `gorm:"column:garment_cache_path" json:"garment_cache_path"`
	GarmentCacheExpiresAt *time.Time `gorm:"column:garment_cache_expires_at" json:"garment_cache_expires_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Profile) TableName() string { return "profile" }

// ConsentCompliant reports whether the profile's accepted consent version
// matches the currently required one.
func (p *Profile) ConsentCompliant() bool {
	if p == nil {
		return false
	}
	return p.ConsentAcceptedVersion != "" && p.ConsentAcceptedVersion == p.ConsentRequiredVersion
}

func (p *Profile) HasPersona() bool {
	return p != nil && p.PersonaPath != ""
}
