package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stylistio/tryon-backend/internal/apierr"
	"github.com/stylistio/tryon-backend/internal/clients/gcp"
	"github.com/stylistio/tryon-backend/internal/clients/vertex"
	"github.com/stylistio/tryon-backend/internal/logger"
	"github.com/stylistio/tryon-backend/internal/requestdata"
	"github.com/stylistio/tryon-backend/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

// ---- fakes ----

type fakeProfileRepo struct {
	profile        *types.Profile
	getErr         error
	updateErr      error
	incrementErr   error
	updateCalls    []map[string]interface{}
	incrementCalls int
}

func (f *fakeProfileRepo) Create(ctx context.Context, tx *gorm.DB, p *types.Profile) (*types.Profile, error) {
	f.profile = p
	return p, nil
}

func (f *fakeProfileRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.Profile, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.profile == nil || f.profile.UserID != userID {
		return nil, nil
	}
	cp := *f.profile
	return &cp, nil
}

func (f *fakeProfileRepo) UpdateFields(ctx context.Context, tx *gorm.DB, userID uuid.UUID, updates map[string]interface{}) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updateCalls = append(f.updateCalls, updates)
	if f.profile == nil || f.profile.UserID != userID {
		return nil
	}
	for k, v := range updates {
		switch k {
		case "persona_path":
			f.profile.PersonaPath = v.(string)
		case "persona_width":
			f.profile.PersonaWidth = v.(int)
		case "persona_height":
			f.profile.PersonaHeight = v.(int)
		case "persona_content_type":
			f.profile.PersonaContentType = v.(string)
		case "persona_updated_at":
			t := v.(time.Time)
			f.profile.PersonaUpdatedAt = &t
		case "consent_accepted_version":
			f.profile.ConsentAcceptedVersion = v.(string)
		case "consent_accepted_at":
			t := v.(time.Time)
			f.profile.ConsentAcceptedAt = &t
		case "garment_cache_path":
			f.profile.GarmentCachePath = v.(string)
		case "garment_cache_expires_at":
			t := v.(time.Time)
			f.profile.GarmentCacheExpiresAt = &t
		}
	}
	return nil
}

func (f *fakeProfileRepo) IncrementFreeGenerationUsed(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	if f.incrementErr != nil {
		return f.incrementErr
	}
	f.incrementCalls++
	if f.profile != nil {
		f.profile.FreeGenerationUsed++
	}
	return nil
}

type fakeGenRepo struct {
	rows      map[uuid.UUID]*types.Generation
	createErr error
	getErr    error
	updateErr error
	created   []*types.Generation
}

func newFakeGenRepo() *fakeGenRepo {
	return &fakeGenRepo{rows: map[uuid.UUID]*types.Generation{}}
}

func (f *fakeGenRepo) Create(ctx context.Context, tx *gorm.DB, gen *types.Generation) (*types.Generation, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	cp := *gen
	f.rows[gen.ID] = &cp
	f.created = append(f.created, &cp)
	return gen, nil
}

func (f *fakeGenRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Generation, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	gen, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *gen
	return &cp, nil
}

func (f *fakeGenRepo) ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.Generation, error) {
	var out []*types.Generation
	for _, gen := range f.rows {
		if gen.UserID == userID {
			cp := *gen
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeGenRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if gen, ok := f.rows[id]; ok {
		applyGenUpdates(gen, updates)
	}
	return nil
}

func (f *fakeGenRepo) UpdateFieldsIfNotTerminal(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) (int64, error) {
	if f.updateErr != nil {
		return 0, f.updateErr
	}
	gen, ok := f.rows[id]
	if !ok || gen.Terminal() {
		return 0, nil
	}
	applyGenUpdates(gen, updates)
	return 1, nil
}

func applyGenUpdates(gen *types.Generation, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			gen.Status = v.(string)
		case "started_at":
			t := v.(time.Time)
			gen.StartedAt = &t
		case "completed_at":
			t := v.(time.Time)
			gen.CompletedAt = &t
		case "error_reason":
			s := v.(string)
			gen.ErrorReason = &s
		case "result_path":
			s := v.(string)
			gen.ResultPath = &s
		case "vertex_job_id":
			s := v.(string)
			gen.VertexJobID = &s
		case "eta_seconds":
			gen.ETASeconds = v.(int)
		case "rating":
			r := v.(int)
			gen.Rating = &r
		case "rated_at":
			t := v.(time.Time)
			gen.RatedAt = &t
		}
	}
}

type bucketCall struct {
	category gcp.BucketCategory
	key      string
	srcKey   string
}

type fakeBucket struct {
	uploadErr error
	copyErr   error
	uploads   []bucketCall
	copies    []bucketCall
	deletes   []bucketCall
}

func (f *fakeBucket) UploadFile(ctx context.Context, category gcp.BucketCategory, key string, data []byte, contentType string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, bucketCall{category: category, key: key})
	return nil
}

func (f *fakeBucket) CopyObject(ctx context.Context, category gcp.BucketCategory, srcKey, dstKey string) error {
	if f.copyErr != nil {
		return f.copyErr
	}
	f.copies = append(f.copies, bucketCall{category: category, key: dstKey, srcKey: srcKey})
	return nil
}

func (f *fakeBucket) DownloadFile(ctx context.Context, category gcp.BucketCategory, key string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBucket) GetObjectAttrs(ctx context.Context, category gcp.BucketCategory, key string) (*gcp.ObjectAttrs, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBucket) DeleteFile(ctx context.Context, category gcp.BucketCategory, key string) error {
	f.deletes = append(f.deletes, bucketCall{category: category, key: key})
	return nil
}

func (f *fakeBucket) ListKeys(ctx context.Context, category gcp.BucketCategory, prefix string) ([]string, error) {
	return nil, nil
}

func (f *fakeBucket) GetPublicURL(category gcp.BucketCategory, key string) string {
	return fmt.Sprintf("https://cdn.example.com/%s/%s", category, key)
}

type fakeVertex struct {
	result   *vertex.EnqueueResult
	err      error
	requests []vertex.EnqueueRequest
}

func (f *fakeVertex) Enqueue(ctx context.Context, req vertex.EnqueueRequest) (*vertex.EnqueueResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return f.result, nil
}

func (f *fakeVertex) GetJob(ctx context.Context, jobID string) (*vertex.JobDetail, error) {
	return nil, errors.New("not implemented")
}

// ---- fixtures ----

type genFixture struct {
	svc     GenerationService
	profile *fakeProfileRepo
	gens    *fakeGenRepo
	bucket  *fakeBucket
	runner  *fakeVertex
	userID  uuid.UUID
	ctx     context.Context
}

func newGenFixture(t *testing.T) *genFixture {
	t.Helper()
	userID := uuid.New()
	now := time.Now().UTC()
	accepted := now.Add(-time.Hour)
	profile := &fakeProfileRepo{profile: &types.Profile{
		ID:                     uuid.New(),
		UserID:                 userID,
		PersonaPath:            fmt.Sprintf("personas/%s/1.png", userID),
		PersonaContentType:     "image/png",
		ConsentRequiredVersion: "v1",
		ConsentAcceptedVersion: "v1",
		ConsentAcceptedAt:      &accepted,
		FreeGenerationTotal:    10,
		FreeGenerationUsed:     3,
	}}
	gens := newFakeGenRepo()
	bucket := &fakeBucket{}
	runner := &fakeVertex{result: &vertex.EnqueueResult{JobID: "vtx-123", ETASeconds: 45}}

	svc := NewGenerationService(nil, testLogger(t), DefaultGenerationConfig(), profile, gens, bucket, runner, nil)
	ctx := requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: userID})
	return &genFixture{svc: svc, profile: profile, gens: gens, bucket: bucket, runner: runner, userID: userID, ctx: ctx}
}

func (fx *genFixture) assertNoSideEffects(t *testing.T) {
	t.Helper()
	if len(fx.bucket.uploads) != 0 || len(fx.bucket.copies) != 0 {
		t.Fatalf("unexpected storage calls: uploads=%d copies=%d", len(fx.bucket.uploads), len(fx.bucket.copies))
	}
	if len(fx.gens.created) != 0 {
		t.Fatalf("unexpected generation rows: %d", len(fx.gens.created))
	}
	if fx.profile.incrementCalls != 0 {
		t.Fatalf("quota incremented %d times, want 0", fx.profile.incrementCalls)
	}
	if len(fx.runner.requests) != 0 {
		t.Fatalf("unexpected dispatches: %d", len(fx.runner.requests))
	}
}

func wantAPIError(t *testing.T, err error, status int, code string) *apierr.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("error %v is not an api error", err)
	}
	if ae.Status != status || ae.Code != code {
		t.Fatalf("error = %d/%s, want %d/%s", ae.Status, ae.Code, status, code)
	}
	return ae
}

// ---- CreateGeneration ----

func TestCreateGenerationHappyPath(t *testing.T) {
	fx := newGenFixture(t)
	garment := pngBytes(t, 512, 512)

	result, err := fx.svc.CreateGeneration(fx.ctx, nil, CreateGenerationCommand{
		Garment:         garment,
		GarmentFilename: "summer dress.png",
		ConsentVersion:  "v1",
	})
	if err != nil {
		t.Fatalf("CreateGeneration: %v", err)
	}

	if result.Status != types.GenerationStatusQueued {
		t.Fatalf("status = %q, want queued", result.Status)
	}
	if result.VertexJobID != "vtx-123" {
		t.Fatalf("job id = %q", result.VertexJobID)
	}
	if result.ETASeconds != 45 {
		t.Fatalf("eta = %d, want runner's 45", result.ETASeconds)
	}
	// 10 total, 3 used, one just consumed.
	if result.Quota.RemainingFree != 6 {
		t.Fatalf("remaining = %d, want 6", result.Quota.RemainingFree)
	}
	if got := result.ExpiresAt.Sub(result.CreatedAt); got != 48*time.Hour {
		t.Fatalf("retention = %v, want default 48h", got)
	}

	prefix := fmt.Sprintf("generations/%s/%s/", fx.userID, result.ID)
	if !strings.HasPrefix(result.GarmentSnapshotPath, prefix+"garment/") {
		t.Fatalf("garment key = %q", result.GarmentSnapshotPath)
	}
	if strings.Contains(result.GarmentSnapshotPath, " ") {
		t.Fatalf("garment key not sanitized: %q", result.GarmentSnapshotPath)
	}
	if result.PersonaSnapshotPath != prefix+"persona.png" {
		t.Fatalf("persona key = %q", result.PersonaSnapshotPath)
	}

	if len(fx.bucket.uploads) != 1 || fx.bucket.uploads[0].category != gcp.BucketCategoryGarment {
		t.Fatalf("uploads = %+v", fx.bucket.uploads)
	}
	if len(fx.bucket.copies) != 1 || fx.bucket.copies[0].srcKey != fx.profile.profile.PersonaPath {
		t.Fatalf("copies = %+v", fx.bucket.copies)
	}
	if fx.profile.incrementCalls != 1 {
		t.Fatalf("increment calls = %d, want 1", fx.profile.incrementCalls)
	}
	if len(fx.gens.created) != 1 || fx.gens.created[0].Status != types.GenerationStatusQueued {
		t.Fatalf("created rows = %+v", fx.gens.created)
	}

	stored := fx.gens.rows[result.ID]
	if stored.VertexJobID == nil || *stored.VertexJobID != "vtx-123" {
		t.Fatalf("stored job id = %v", stored.VertexJobID)
	}

	if len(fx.runner.requests) != 1 {
		t.Fatalf("dispatches = %d", len(fx.runner.requests))
	}
	req := fx.runner.requests[0]
	if req.GenerationID != result.ID || req.PersonaPath != result.PersonaSnapshotPath || req.RetainForHours != 48 {
		t.Fatalf("dispatch request = %+v", req)
	}
}

func TestCreateGenerationUnauthorized(t *testing.T) {
	fx := newGenFixture(t)
	_, err := fx.svc.CreateGeneration(context.Background(), nil, CreateGenerationCommand{
		Garment:         pngBytes(t, 512, 512),
		GarmentFilename: "dress.png",
		ConsentVersion:  "v1",
	})
	wantAPIError(t, err, http.StatusUnauthorized, apierr.CodeUnauthorized)
	fx.assertNoSideEffects(t)
}

func TestCreateGenerationMissingGarment(t *testing.T) {
	fx := newGenFixture(t)
	_, err := fx.svc.CreateGeneration(fx.ctx, nil, CreateGenerationCommand{
		GarmentFilename: "dress.png",
		ConsentVersion:  "v1",
	})
	wantAPIError(t, err, http.StatusBadRequest, apierr.CodeInvalidRequest)
	fx.assertNoSideEffects(t)
}

func TestCreateGenerationRetentionOutOfRange(t *testing.T) {
	fx := newGenFixture(t)
	for _, hours := range []int{23, 73, 0, -1} {
		h := hours
		_, err := fx.svc.CreateGeneration(fx.ctx, nil, CreateGenerationCommand{
			Garment:         pngBytes(t, 512, 512),
			GarmentFilename: "dress.png",
			ConsentVersion:  "v1",
			RetainForHours:  &h,
		})
		ae := wantAPIError(t, err, http.StatusBadRequest, apierr.CodeInvalidRequest)
		if ae.Details["retain_for_hours"] != h {
			t.Fatalf("details = %+v", ae.Details)
		}
	}
	fx.assertNoSideEffects(t)
}

func TestCreateGenerationRetentionBounds(t *testing.T) {
	for _, hours := range []int{24, 72} {
		fx := newGenFixture(t)
		h := hours
		result, err := fx.svc.CreateGeneration(fx.ctx, nil, CreateGenerationCommand{
			Garment:         pngBytes(t, 512, 512),
			GarmentFilename: "dress.png",
			ConsentVersion:  "v1",
			RetainForHours:  &h,
		})
		if err != nil {
			t.Fatalf("retain %d: %v", hours, err)
		}
		if got := result.ExpiresAt.Sub(result.CreatedAt); got != time.Duration(hours)*time.Hour {
			t.Fatalf("retain %d: retention = %v", hours, got)
		}
	}
}

func TestCreateGenerationProfileNotFound(t *testing.T) {
	fx := newGenFixture(t)
	fx.profile.profile = nil
	_, err := fx.svc.CreateGeneration(fx.ctx, nil, CreateGenerationCommand{
		Garment:         pngBytes(t, 512, 512),
		GarmentFilename: "dress.png",
		ConsentVersion:  "v1",
	})
	wantAPIError(t, err, http.StatusNotFound, apierr.CodeProfileNotFound)
	fx.assertNoSideEffects(t)
}

func TestCreateGenerationConsentMismatch(t *testing.T) {
	fx := newGenFixture(t)
	_, err := fx.svc.CreateGeneration(fx.ctx, nil, CreateGenerationCommand{
		Garment:         pngBytes(t, 512, 512),
		GarmentFilename: "dress.png",
		ConsentVersion:  "v0",
	})
	wantAPIError(t, err, http.StatusForbidden, apierr.CodeConsentMismatch)
	fx.assertNoSideEffects(t)
}

func TestCreateGenerationPersonaMissing(t *testing.T) {
	fx := newGenFixture(t)
	fx.profile.profile.PersonaPath = ""
	_, err := fx.svc.CreateGeneration(fx.ctx, nil, CreateGenerationCommand{
		Garment:         pngBytes(t, 512, 512),
		GarmentFilename: "dress.png",
		ConsentVersion:  "v1",
	})
	wantAPIError(t, err, http.StatusForbidden, apierr.CodePersonaMissing)
	fx.assertNoSideEffects(t)
}

func TestCreateGenerationQuotaExhausted(t *testing.T) {
	fx := newGenFixture(t)
	fx.profile.profile.FreeGenerationUsed = fx.profile.profile.FreeGenerationTotal
	renews := time.Now().UTC().Add(24 * time.Hour)
	fx.profile.profile.QuotaRenewsAt = &renews

	_, err := fx.svc.CreateGeneration(fx.ctx, nil, CreateGenerationCommand{
		Garment:         pngBytes(t, 512, 512),
		GarmentFilename: "dress.png",
		ConsentVersion:  "v1",
	})
	ae := wantAPIError(t, err, http.StatusTooManyRequests, apierr.CodeQuotaExhausted)
	if ae.Details["renews_at"] == "" {
		t.Fatalf("details = %+v", ae.Details)
	}
	fx.assertNoSideEffects(t)
}

// Consent is checked before persona and quota, so a profile violating all
// three reports the consent mismatch.
func TestCreateGenerationPreconditionOrder(t *testing.T) {
	fx := newGenFixture(t)
	fx.profile.profile.ConsentAcceptedVersion = ""
	fx.profile.profile.PersonaPath = ""
	fx.profile.profile.FreeGenerationUsed = fx.profile.profile.FreeGenerationTotal

	_, err := fx.svc.CreateGeneration(fx.ctx, nil, CreateGenerationCommand{
		Garment:         pngBytes(t, 512, 512),
		GarmentFilename: "dress.png",
		ConsentVersion:  "v1",
	})
	wantAPIError(t, err, http.StatusForbidden, apierr.CodeConsentMismatch)
	fx.assertNoSideEffects(t)
}

func TestCreateGenerationInvalidGarmentImage(t *testing.T) {
	fx := newGenFixture(t)
	_, err := fx.svc.CreateGeneration(fx.ctx, nil, CreateGenerationCommand{
		Garment:         pngBytes(t, 100, 100),
		GarmentFilename: "tiny.png",
		ConsentVersion:  "v1",
	})
	ae := wantAPIError(t, err, http.StatusBadRequest, apierr.CodeInvalidRequest)
	if ae.Details["code"] != ValidationCodeBelowMinResolution {
		t.Fatalf("details = %+v", ae.Details)
	}
	if len(fx.gens.created) != 0 || fx.profile.incrementCalls != 0 {
		t.Fatalf("validation failure must not create rows or burn quota")
	}
}

func TestCreateGenerationStorageFailure(t *testing.T) {
	fx := newGenFixture(t)
	fx.bucket.uploadErr = errors.New("bucket unavailable")

	_, err := fx.svc.CreateGeneration(fx.ctx, nil, CreateGenerationCommand{
		Garment:         pngBytes(t, 512, 512),
		GarmentFilename: "dress.png",
		ConsentVersion:  "v1",
	})
	wantAPIError(t, err, http.StatusInternalServerError, apierr.CodeStorageFailure)
	if len(fx.gens.created) != 0 {
		t.Fatalf("no row may exist after a storage abort")
	}
	if fx.profile.incrementCalls != 0 || len(fx.runner.requests) != 0 {
		t.Fatalf("storage abort must not burn quota or dispatch")
	}
}

func TestCreateGenerationVertexFailureLeavesQueuedRow(t *testing.T) {
	fx := newGenFixture(t)
	fx.runner.err = &vertex.StatusError{StatusCode: http.StatusServiceUnavailable, Body: "overloaded"}

	_, err := fx.svc.CreateGeneration(fx.ctx, nil, CreateGenerationCommand{
		Garment:         pngBytes(t, 512, 512),
		GarmentFilename: "dress.png",
		ConsentVersion:  "v1",
	})
	wantAPIError(t, err, http.StatusBadGateway, apierr.CodeVertexFailure)

	// The queued row and the consumed quota unit survive for inspection.
	if len(fx.gens.created) != 1 {
		t.Fatalf("created rows = %d, want 1", len(fx.gens.created))
	}
	row := fx.gens.created[0]
	if row.Status != types.GenerationStatusQueued || row.VertexJobID != nil {
		t.Fatalf("row = %+v, want queued with no job id", row)
	}
	if fx.profile.incrementCalls != 1 {
		t.Fatalf("increment calls = %d, want 1", fx.profile.incrementCalls)
	}
}

func TestCreateGenerationJobIDPersistenceFailureIsSwallowed(t *testing.T) {
	fx := newGenFixture(t)
	fx.gens.updateErr = errors.New("deadlock detected")

	result, err := fx.svc.CreateGeneration(fx.ctx, nil, CreateGenerationCommand{
		Garment:         pngBytes(t, 512, 512),
		GarmentFilename: "dress.png",
		ConsentVersion:  "v1",
	})
	if err != nil {
		t.Fatalf("persistence failure after dispatch must not fail the request: %v", err)
	}
	if result.VertexJobID != "vtx-123" {
		t.Fatalf("result job id = %q", result.VertexJobID)
	}
}

// ---- GetGeneration / RateGeneration ----

func TestGetGenerationOwnerScoped(t *testing.T) {
	fx := newGenFixture(t)
	gen := &types.Generation{
		ID:        uuid.New(),
		UserID:    uuid.New(), // someone else's
		Status:    types.GenerationStatusQueued,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	fx.gens.rows[gen.ID] = gen

	_, err := fx.svc.GetGeneration(fx.ctx, nil, gen.ID)
	wantAPIError(t, err, http.StatusNotFound, apierr.CodeNotFound)
}

func TestRateGeneration(t *testing.T) {
	fx := newGenFixture(t)
	res := "results/ok.png"
	gen := &types.Generation{
		ID:         uuid.New(),
		UserID:     fx.userID,
		Status:     types.GenerationStatusSucceeded,
		ResultPath: &res,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(time.Hour),
	}
	fx.gens.rows[gen.ID] = gen

	if _, err := fx.svc.RateGeneration(fx.ctx, nil, gen.ID, 0); err == nil {
		t.Fatalf("rating 0 must be rejected")
	}
	if _, err := fx.svc.RateGeneration(fx.ctx, nil, gen.ID, 6); err == nil {
		t.Fatalf("rating 6 must be rejected")
	}

	rated, err := fx.svc.RateGeneration(fx.ctx, nil, gen.ID, 4)
	if err != nil {
		t.Fatalf("RateGeneration: %v", err)
	}
	if rated.Rating == nil || *rated.Rating != 4 || rated.RatedAt == nil {
		t.Fatalf("rated = %+v", rated)
	}
}

func TestRateGenerationNonSucceeded(t *testing.T) {
	fx := newGenFixture(t)
	gen := &types.Generation{
		ID:        uuid.New(),
		UserID:    fx.userID,
		Status:    types.GenerationStatusProcessing,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	fx.gens.rows[gen.ID] = gen

	_, err := fx.svc.RateGeneration(fx.ctx, nil, gen.ID, 5)
	wantAPIError(t, err, http.StatusBadRequest, apierr.CodeInvalidRequest)
}

// ---- ApplyJobUpdate ----

func seededGen(fx *genFixture, status string) *types.Generation {
	gen := &types.Generation{
		ID:        uuid.New(),
		UserID:    fx.userID,
		Status:    status,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	fx.gens.rows[gen.ID] = gen
	return gen
}

func TestApplyJobUpdateProcessingSetsStartedAt(t *testing.T) {
	fx := newGenFixture(t)
	gen := seededGen(fx, types.GenerationStatusQueued)

	updated, err := fx.svc.ApplyJobUpdate(context.Background(), nil, JobUpdate{
		GenerationID: gen.ID,
		State:        types.GenerationStatusProcessing,
	})
	if err != nil {
		t.Fatalf("ApplyJobUpdate: %v", err)
	}
	if updated.Status != types.GenerationStatusProcessing || updated.StartedAt == nil {
		t.Fatalf("updated = %+v", updated)
	}
}

func TestApplyJobUpdateSucceededRequiresResult(t *testing.T) {
	fx := newGenFixture(t)
	gen := seededGen(fx, types.GenerationStatusProcessing)

	updated, err := fx.svc.ApplyJobUpdate(context.Background(), nil, JobUpdate{
		GenerationID: gen.ID,
		State:        types.GenerationStatusSucceeded,
	})
	if err != nil {
		t.Fatalf("ApplyJobUpdate: %v", err)
	}
	if updated.Status != types.GenerationStatusFailed {
		t.Fatalf("status = %q, want failed", updated.Status)
	}
	if updated.ErrorReason == nil || *updated.ErrorReason != FailureCodeMissingResult {
		t.Fatalf("error reason = %v", updated.ErrorReason)
	}
}

func TestApplyJobUpdateSucceeded(t *testing.T) {
	fx := newGenFixture(t)
	gen := seededGen(fx, types.GenerationStatusProcessing)

	updated, err := fx.svc.ApplyJobUpdate(context.Background(), nil, JobUpdate{
		GenerationID: gen.ID,
		State:        types.GenerationStatusSucceeded,
		ResultPath:   "results/ok.png",
	})
	if err != nil {
		t.Fatalf("ApplyJobUpdate: %v", err)
	}
	if updated.Status != types.GenerationStatusSucceeded {
		t.Fatalf("status = %q", updated.Status)
	}
	if updated.ResultPath == nil || *updated.ResultPath != "results/ok.png" || updated.CompletedAt == nil {
		t.Fatalf("updated = %+v", updated)
	}
}

func TestApplyJobUpdateFailedDefaultsReason(t *testing.T) {
	fx := newGenFixture(t)
	gen := seededGen(fx, types.GenerationStatusProcessing)

	updated, err := fx.svc.ApplyJobUpdate(context.Background(), nil, JobUpdate{
		GenerationID: gen.ID,
		State:        types.GenerationStatusFailed,
	})
	if err != nil {
		t.Fatalf("ApplyJobUpdate: %v", err)
	}
	if updated.ErrorReason == nil || *updated.ErrorReason != FailureCodeUnknownFailure {
		t.Fatalf("error reason = %v", updated.ErrorReason)
	}
}

func TestApplyJobUpdateTerminalRowsAreImmutable(t *testing.T) {
	fx := newGenFixture(t)
	res := "results/final.png"
	gen := seededGen(fx, types.GenerationStatusSucceeded)
	gen.ResultPath = &res

	updated, err := fx.svc.ApplyJobUpdate(context.Background(), nil, JobUpdate{
		GenerationID: gen.ID,
		State:        types.GenerationStatusFailed,
		ErrorReason:  "late failure",
	})
	if err != nil {
		t.Fatalf("ApplyJobUpdate: %v", err)
	}
	if updated.Status != types.GenerationStatusSucceeded {
		t.Fatalf("terminal row mutated: %+v", updated)
	}
	if updated.ErrorReason != nil {
		t.Fatalf("terminal row gained an error reason: %v", *updated.ErrorReason)
	}
}

func TestApplyJobUpdateUnknownStateIgnored(t *testing.T) {
	fx := newGenFixture(t)
	gen := seededGen(fx, types.GenerationStatusQueued)

	updated, err := fx.svc.ApplyJobUpdate(context.Background(), nil, JobUpdate{
		GenerationID: gen.ID,
		State:        "paused",
	})
	if err != nil {
		t.Fatalf("ApplyJobUpdate: %v", err)
	}
	if updated.Status != types.GenerationStatusQueued {
		t.Fatalf("unknown state changed the row: %+v", updated)
	}
}

func TestApplyJobUpdateUnknownGeneration(t *testing.T) {
	fx := newGenFixture(t)
	_, err := fx.svc.ApplyJobUpdate(context.Background(), nil, JobUpdate{
		GenerationID: uuid.New(),
		State:        types.GenerationStatusProcessing,
	})
	wantAPIError(t, err, http.StatusNotFound, apierr.CodeNotFound)
}
