package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stylistio/tryon-backend/internal/apierr"
	"github.com/stylistio/tryon-backend/internal/clients/gcp"
	"github.com/stylistio/tryon-backend/internal/logger"
	"github.com/stylistio/tryon-backend/internal/repos"
	"github.com/stylistio/tryon-backend/internal/requestdata"
	"github.com/stylistio/tryon-backend/internal/types"
)

type ProfileConfig struct {
	ConsentRequiredVersion string
	FreeGenerationTotal    int
	QuotaRenewalDays       int
	PersonaConstraints     GarmentConstraints
}

func DefaultProfileConfig() ProfileConfig {
	return ProfileConfig{
		ConsentRequiredVersion: "v1",
		FreeGenerationTotal:    10,
		QuotaRenewalDays:       30,
		PersonaConstraints:     DefaultGarmentConstraints(),
	}
}

type ProfileService interface {
	GetProfile(ctx context.Context, tx *gorm.DB) (*types.Profile, error)
	AcceptConsent(ctx context.Context, tx *gorm.DB, version string) (*types.Profile, error)
	UploadPersona(ctx context.Context, tx *gorm.DB, blob []byte, filename string) (*types.Profile, error)
}

type profileService struct {
	db            *gorm.DB
	log           *logger.Logger
	cfg           ProfileConfig
	profileRepo   repos.ProfileRepo
	bucketService gcp.BucketService
}

func NewProfileService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg ProfileConfig,
	profileRepo repos.ProfileRepo,
	bucketService gcp.BucketService,
) ProfileService {
	return &profileService{
		db:            db,
		log:           baseLog.With("service", "ProfileService"),
		cfg:           cfg,
		profileRepo:   profileRepo,
		bucketService: bucketService,
	}
}

// GetProfile returns the caller's profile, creating one with the default
// quota and current required consent version on first read.
func (s *profileService) GetProfile(ctx context.Context, tx *gorm.DB) (*types.Profile, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.Unauthorized(nil)
	}

	profile, err := s.profileRepo.GetByUserID(ctx, tx, rd.UserID)
	if err != nil {
		return nil, apierr.DatabaseFailure(err)
	}
	if profile != nil {
		return profile, nil
	}

	now := time.Now().UTC()
	renewsAt := now.AddDate(0, 0, s.cfg.QuotaRenewalDays)
	profile = &types.Profile{
		ID:                     uuid.New(),
		UserID:                 rd.UserID,
		ConsentRequiredVersion: s.cfg.ConsentRequiredVersion,
		FreeGenerationTotal:    s.cfg.FreeGenerationTotal,
		QuotaRenewsAt:          &renewsAt,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if _, err := s.profileRepo.Create(ctx, tx, profile); err != nil {
		return nil, apierr.DatabaseFailure(err)
	}
	return profile, nil
}

func (s *profileService) AcceptConsent(ctx context.Context, tx *gorm.DB, version string) (*types.Profile, error) {
	profile, err := s.GetProfile(ctx, tx)
	if err != nil {
		return nil, err
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return nil, apierr.InvalidRequest("missing consent version", nil)
	}
	if version != profile.ConsentRequiredVersion {
		return nil, apierr.ConsentMismatch(profile.ConsentRequiredVersion)
	}

	now := time.Now().UTC()
	if err := s.profileRepo.UpdateFields(ctx, tx, profile.UserID, map[string]interface{}{
		"consent_accepted_version": version,
		"consent_accepted_at":      now,
	}); err != nil {
		return nil, apierr.DatabaseFailure(err)
	}
	profile.ConsentAcceptedVersion = version
	profile.ConsentAcceptedAt = &now
	return profile, nil
}

func (s *profileService) UploadPersona(ctx context.Context, tx *gorm.DB, blob []byte, filename string) (*types.Profile, error) {
	profile, err := s.GetProfile(ctx, tx)
	if err != nil {
		return nil, err
	}

	if len(blob) == 0 || strings.TrimSpace(filename) == "" {
		return nil, apierr.InvalidRequest("a persona image and filename are required", nil)
	}
	meta, vErr := ValidateGarment(blob, s.cfg.PersonaConstraints)
	if vErr != nil {
		return nil, apierr.InvalidRequest(vErr.Message, vErr).WithDetails(map[string]any{
			"code":    vErr.Code,
			"details": vErr.Details,
		})
	}

	// Versioned key so a stale CDN entry can't shadow the new persona.
	key := fmt.Sprintf("personas/%s/%d%s", profile.UserID, time.Now().UnixNano(), extForContentType(meta.ContentType))
	if err := s.bucketService.UploadFile(ctx, gcp.BucketCategoryPersona, key, blob, meta.ContentType); err != nil {
		return nil, apierr.StorageFailure(err)
	}

	oldKey := strings.TrimSpace(profile.PersonaPath)

	now := time.Now().UTC()
	if err := s.profileRepo.UpdateFields(ctx, tx, profile.UserID, map[string]interface{}{
		"persona_path":         key,
		"persona_width":        meta.Width,
		"persona_height":       meta.Height,
		"persona_content_type": meta.ContentType,
		"persona_updated_at":   now,
	}); err != nil {
		return nil, apierr.DatabaseFailure(err)
	}

	profile.PersonaPath = key
	profile.PersonaWidth = meta.Width
	profile.PersonaHeight = meta.Height
	profile.PersonaContentType = meta.ContentType
	profile.PersonaUpdatedAt = &now

	// Best-effort delete of the replaced object after the new one is live.
	if oldKey != "" && oldKey != key {
		if err := s.bucketService.DeleteFile(ctx, gcp.BucketCategoryPersona, oldKey); err != nil {
			s.log.Warn("failed to delete old persona (ignored)", "oldKey", oldKey, "error", err)
		}
	}

	return profile, nil
}
