package services

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/stylistio/tryon-backend/internal/apierr"
	"github.com/stylistio/tryon-backend/internal/clients/gcp"
	"github.com/stylistio/tryon-backend/internal/clients/redis"
	"github.com/stylistio/tryon-backend/internal/clients/vertex"
	"github.com/stylistio/tryon-backend/internal/logger"
	"github.com/stylistio/tryon-backend/internal/repos"
	"github.com/stylistio/tryon-backend/internal/requestdata"
	"github.com/stylistio/tryon-backend/internal/types"
)

type GenerationConfig struct {
	DefaultRetainHours int
	MinRetainHours     int
	MaxRetainHours     int
	DefaultETASeconds  int
	Constraints        GarmentConstraints
	CacheTTL           time.Duration
}

func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		DefaultRetainHours: 48,
		MinRetainHours:     24,
		MaxRetainHours:     72,
		DefaultETASeconds:  90,
		Constraints:        DefaultGarmentConstraints(),
		CacheTTL:           5 * time.Minute,
	}
}

type CreateGenerationCommand struct {
	Garment         []byte
	GarmentFilename string
	ConsentVersion  string
	RetainForHours  *int
}

type CreateGenerationQuota struct {
	RemainingFree int `json:"remaining_free"`
}

type CreateGenerationResult struct {
	ID                  uuid.UUID             `json:"id"`
	Status              string                `json:"status"`
	VertexJobID         string                `json:"vertex_job_id"`
	ETASeconds          int                   `json:"eta_seconds"`
	Quota               CreateGenerationQuota `json:"quota"`
	CreatedAt           time.Time             `json:"created_at"`
	PersonaSnapshotPath string                `json:"persona_snapshot_path"`
	GarmentSnapshotPath string                `json:"garment_snapshot_path"`
	ExpiresAt           time.Time             `json:"expires_at"`
}

// JobUpdate is the runner's report about a dispatched job, arriving via
// webhook or poll reconciliation.
type JobUpdate struct {
	GenerationID uuid.UUID
	State        string
	ResultPath   string
	ErrorReason  string
}

type GenerationService interface {
	CreateGeneration(ctx context.Context, tx *gorm.DB, cmd CreateGenerationCommand) (*CreateGenerationResult, error)
	GetGeneration(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Generation, error)
	ListGenerations(ctx context.Context, tx *gorm.DB) ([]*types.Generation, error)
	RateGeneration(ctx context.Context, tx *gorm.DB, id uuid.UUID, rating int) (*types.Generation, error)
	ApplyJobUpdate(ctx context.Context, tx *gorm.DB, upd JobUpdate) (*types.Generation, error)
}

type generationService struct {
	db            *gorm.DB
	log           *logger.Logger
	cfg           GenerationConfig
	profileRepo   repos.ProfileRepo
	genRepo       repos.GenerationRepo
	bucketService gcp.BucketService
	vertexClient  vertex.Client
	cache         redis.GenerationCache // nil when redis is not wired
}

func NewGenerationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg GenerationConfig,
	profileRepo repos.ProfileRepo,
	genRepo repos.GenerationRepo,
	bucketService gcp.BucketService,
	vertexClient vertex.Client,
	cache redis.GenerationCache,
) GenerationService {
	return &generationService{
		db:            db,
		log:           baseLog.With("service", "GenerationService"),
		cfg:           cfg,
		profileRepo:   profileRepo,
		genRepo:       genRepo,
		bucketService: bucketService,
		vertexClient:  vertexClient,
		cache:         cache,
	}
}

func (s *generationService) CreateGeneration(ctx context.Context, tx *gorm.DB, cmd CreateGenerationCommand) (*CreateGenerationResult, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.Unauthorized(nil)
	}
	userID := rd.UserID

	// Preconditions, strict order, no side effects until all pass.
	if len(cmd.Garment) == 0 || strings.TrimSpace(cmd.GarmentFilename) == "" {
		return nil, apierr.InvalidRequest("a garment image and filename are required", nil)
	}

	retainHours := s.cfg.DefaultRetainHours
	if cmd.RetainForHours != nil {
		retainHours = *cmd.RetainForHours
		if retainHours < s.cfg.MinRetainHours || retainHours > s.cfg.MaxRetainHours {
			return nil, apierr.InvalidRequest(
				fmt.Sprintf("retain_for_hours must be between %d and %d", s.cfg.MinRetainHours, s.cfg.MaxRetainHours),
				nil,
			).WithDetails(map[string]any{"retain_for_hours": retainHours})
		}
	}

	profile, err := s.profileRepo.GetByUserID(ctx, tx, userID)
	if err != nil {
		return nil, apierr.DatabaseFailure(err)
	}
	if profile == nil {
		return nil, apierr.ProfileNotFound()
	}

	if cmd.ConsentVersion != profile.ConsentRequiredVersion || !profile.ConsentCompliant() {
		return nil, apierr.ConsentMismatch(profile.ConsentRequiredVersion)
	}

	if !profile.HasPersona() {
		return nil, apierr.PersonaMissing()
	}

	// Quota guard against this profile snapshot. The later increment races
	// other writers; last write wins and the overshoot is accepted.
	if QuotaRemaining(profile) <= 0 {
		renewsAt := ""
		if profile.QuotaRenewsAt != nil {
			renewsAt = profile.QuotaRenewsAt.Format(time.RFC3339)
		}
		return nil, apierr.QuotaExhausted(renewsAt)
	}

	// Side effects begin here.
	meta, vErr := ValidateGarment(cmd.Garment, s.cfg.Constraints)
	if vErr != nil {
		return nil, apierr.InvalidRequest(vErr.Message, vErr).WithDetails(map[string]any{
			"code":    vErr.Code,
			"details": vErr.Details,
		})
	}

	now := time.Now().UTC()
	genID := uuid.New()

	garmentKey := fmt.Sprintf("generations/%s/%s/garment/%s", userID, genID, sanitizeFilename(cmd.GarmentFilename))
	personaKey := fmt.Sprintf("generations/%s/%s/persona%s", userID, genID, extForContentType(profile.PersonaContentType))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.bucketService.UploadFile(gctx, gcp.BucketCategoryGarment, garmentKey, cmd.Garment, meta.ContentType)
	})
	g.Go(func() error {
		return s.bucketService.CopyObject(gctx, gcp.BucketCategoryPersona, profile.PersonaPath, personaKey)
	})
	if err := g.Wait(); err != nil {
		// No generation row exists yet; this is a clean abort.
		return nil, apierr.StorageFailure(err)
	}

	expiresAt := now.Add(time.Duration(retainHours) * time.Hour)
	gen := &types.Generation{
		ID:                  genID,
		UserID:              userID,
		Status:              types.GenerationStatusQueued,
		PersonaSnapshotPath: personaKey,
		GarmentSnapshotPath: garmentKey,
		ETASeconds:          s.cfg.DefaultETASeconds,
		CreatedAt:           now,
		ExpiresAt:           expiresAt,
	}
	if _, err := s.genRepo.Create(ctx, tx, gen); err != nil {
		return nil, apierr.DatabaseFailure(err)
	}

	if err := s.profileRepo.UpdateFields(ctx, tx, userID, map[string]interface{}{
		"garment_cache_path":       garmentKey,
		"garment_cache_expires_at": expiresAt,
	}); err != nil {
		return nil, apierr.DatabaseFailure(err)
	}
	if err := s.profileRepo.IncrementFreeGenerationUsed(ctx, tx, userID); err != nil {
		// The queued row now exists without a consumed quota unit; a
		// reconciliation sweep outside this path settles it.
		return nil, apierr.DatabaseFailure(err)
	}

	enq, err := s.vertexClient.Enqueue(ctx, vertex.EnqueueRequest{
		GenerationID:   genID,
		UserID:         userID,
		PersonaPath:    personaKey,
		GarmentPath:    garmentKey,
		RetainForHours: retainHours,
	})
	if err != nil {
		// Row stays queued with a null job id for operator inspection; no
		// auto-retry on this path.
		s.log.Error("Vertex enqueue failed", "generation_id", genID, "error", err)
		return nil, apierr.VertexFailure(err)
	}

	etaSeconds := s.cfg.DefaultETASeconds
	if enq.ETASeconds > 0 {
		etaSeconds = enq.ETASeconds
	}

	if err := s.genRepo.UpdateFields(ctx, tx, genID, map[string]interface{}{
		"vertex_job_id": enq.JobID,
		"eta_seconds":   etaSeconds,
	}); err != nil {
		// The remote job is already running; failing the request now would
		// be misleading. Logged for reconciliation.
		s.log.Error("Failed to persist vertex job id", "generation_id", genID, "vertex_job_id", enq.JobID, "error", err)
	}

	return &CreateGenerationResult{
		ID:                  genID,
		Status:              types.GenerationStatusQueued,
		VertexJobID:         enq.JobID,
		ETASeconds:          etaSeconds,
		Quota:               CreateGenerationQuota{RemainingFree: QuotaRemaining(profile) - 1},
		CreatedAt:           now,
		PersonaSnapshotPath: personaKey,
		GarmentSnapshotPath: garmentKey,
		ExpiresAt:           expiresAt,
	}, nil
}

func (s *generationService) GetGeneration(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Generation, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.Unauthorized(nil)
	}
	if id == uuid.Nil {
		return nil, apierr.InvalidRequest("missing generation id", nil)
	}

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, id); err == nil && cached != nil && cached.UserID == rd.UserID {
			return cached, nil
		}
	}

	gen, err := s.genRepo.GetByID(ctx, tx, id)
	if err != nil {
		return nil, apierr.DatabaseFailure(err)
	}
	if gen == nil || gen.UserID != rd.UserID {
		return nil, apierr.NotFound("generation")
	}

	// Only terminal rows are safe to cache; non-terminal rows are still
	// being mutated by the runner.
	if s.cache != nil && gen.Terminal() {
		if err := s.cache.Set(ctx, gen, s.cfg.CacheTTL); err != nil {
			s.log.Warn("Failed to cache generation", "generation_id", id, "error", err)
		}
	}

	return gen, nil
}

func (s *generationService) ListGenerations(ctx context.Context, tx *gorm.DB) ([]*types.Generation, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.Unauthorized(nil)
	}
	gens, err := s.genRepo.ListByUserID(ctx, tx, rd.UserID, 100)
	if err != nil {
		return nil, apierr.DatabaseFailure(err)
	}
	return gens, nil
}

func (s *generationService) RateGeneration(ctx context.Context, tx *gorm.DB, id uuid.UUID, rating int) (*types.Generation, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.Unauthorized(nil)
	}
	if rating < 1 || rating > 5 {
		return nil, apierr.InvalidRequest("rating must be between 1 and 5", nil)
	}

	gen, err := s.genRepo.GetByID(ctx, tx, id)
	if err != nil {
		return nil, apierr.DatabaseFailure(err)
	}
	if gen == nil || gen.UserID != rd.UserID {
		return nil, apierr.NotFound("generation")
	}
	if gen.Status != types.GenerationStatusSucceeded {
		return nil, apierr.InvalidRequest("only completed try-ons can be rated", nil)
	}

	now := time.Now().UTC()
	if err := s.genRepo.UpdateFields(ctx, tx, id, map[string]interface{}{
		"rating":   rating,
		"rated_at": now,
	}); err != nil {
		return nil, apierr.DatabaseFailure(err)
	}
	gen.Rating = &rating
	gen.RatedAt = &now

	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, id)
	}
	return gen, nil
}

// ApplyJobUpdate folds a runner report into the record. Terminal rows never
// change; unknown incoming states are ignored.
func (s *generationService) ApplyJobUpdate(ctx context.Context, tx *gorm.DB, upd JobUpdate) (*types.Generation, error) {
	if upd.GenerationID == uuid.Nil {
		return nil, apierr.InvalidRequest("missing generation id", nil)
	}

	gen, err := s.genRepo.GetByID(ctx, tx, upd.GenerationID)
	if err != nil {
		return nil, apierr.DatabaseFailure(err)
	}
	if gen == nil {
		return nil, apierr.NotFound("generation")
	}
	if gen.Terminal() {
		return gen, nil
	}

	now := time.Now().UTC()
	var updates map[string]interface{}

	switch upd.State {
	case types.GenerationStatusProcessing:
		updates = map[string]interface{}{"status": types.GenerationStatusProcessing}
		if gen.StartedAt == nil {
			updates["started_at"] = now
		}
	case types.GenerationStatusSucceeded:
		if strings.TrimSpace(upd.ResultPath) == "" {
			updates = map[string]interface{}{
				"status":       types.GenerationStatusFailed,
				"error_reason": FailureCodeMissingResult,
				"completed_at": now,
			}
		} else {
			updates = map[string]interface{}{
				"status":       types.GenerationStatusSucceeded,
				"result_path":  upd.ResultPath,
				"completed_at": now,
			}
		}
	case types.GenerationStatusFailed:
		reason := strings.TrimSpace(upd.ErrorReason)
		if reason == "" {
			reason = FailureCodeUnknownFailure
		}
		updates = map[string]interface{}{
			"status":       types.GenerationStatusFailed,
			"error_reason": reason,
			"completed_at": now,
		}
	default:
		s.log.Warn("Ignoring unknown job state", "generation_id", upd.GenerationID, "state", upd.State)
		return gen, nil
	}

	rows, err := s.genRepo.UpdateFieldsIfNotTerminal(ctx, tx, upd.GenerationID, updates)
	if err != nil {
		return nil, apierr.DatabaseFailure(err)
	}
	if rows == 0 {
		// Lost the race to a terminal transition; re-read and report as-is.
		gen, err = s.genRepo.GetByID(ctx, tx, upd.GenerationID)
		if err != nil {
			return nil, apierr.DatabaseFailure(err)
		}
		return gen, nil
	}

	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, upd.GenerationID)
	}

	gen, err = s.genRepo.GetByID(ctx, tx, upd.GenerationID)
	if err != nil {
		return nil, apierr.DatabaseFailure(err)
	}
	return gen, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	base = unsafeFilenameChars.ReplaceAllString(base, "_")
	if base == "" || base == "." || base == ".." {
		return "garment"
	}
	return base
}

func extForContentType(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
