package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stylistio/tryon-backend/internal/logger"
	"github.com/stylistio/tryon-backend/internal/types"
)

type GenerationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, gen *types.Generation) (*types.Generation, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Generation, error)
	ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.Generation, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error

	// UpdateFieldsIfNotTerminal applies updates only while the stored status
	// is still non-terminal. Returns the number of rows changed so callers
	// can tell a no-op from a late arrival against a terminal row.
	UpdateFieldsIfNotTerminal(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) (int64, error)
}

type generationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationRepo(db *gorm.DB, baseLog *logger.Logger) GenerationRepo {
	repoLog := baseLog.With("repo", "GenerationRepo")
	return &generationRepo{db: db, log: repoLog}
}

func (gr *generationRepo) Create(ctx context.Context, tx *gorm.DB, gen *types.Generation) (*types.Generation, error) {
	transaction := tx
	if transaction == nil {
		transaction = gr.db
	}
	if gen == nil {
		return nil, errors.New("generation required")
	}
	if err := transaction.WithContext(ctx).Create(gen).Error; err != nil {
		return nil, err
	}
	return gen, nil
}

func (gr *generationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Generation, error) {
	transaction := tx
	if transaction == nil {
		transaction = gr.db
	}
	if id == uuid.Nil {
		return nil, nil
	}

	var gen types.Generation
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&gen).Error
	if err != nil {
		return nil, err
	}
	if gen.ID == uuid.Nil {
		return nil, nil
	}
	return &gen, nil
}

func (gr *generationRepo) ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.Generation, error) {
	transaction := tx
	if transaction == nil {
		transaction = gr.db
	}
	var results []*types.Generation
	if userID == uuid.Nil {
		return results, nil
	}
	q := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (gr *generationRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = gr.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.Generation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (gr *generationRepo) UpdateFieldsIfNotTerminal(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = gr.db
	}
	if id == uuid.Nil {
		return 0, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := transaction.WithContext(ctx).
		Model(&types.Generation{}).
		Where("id = ? AND status NOT IN ?", id, []string{
			types.GenerationStatusSucceeded,
			types.GenerationStatusFailed,
			types.GenerationStatusExpired,
		}).
		Updates(updates)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
