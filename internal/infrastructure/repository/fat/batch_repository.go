package fat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"brokle/internal/core/domain/fat"
)

// batchRepository implements fat.BatchRepository using GORM.
type batchRepository struct {
	db *gorm.DB
}

// NewBatchRepository creates a new test batch info repository.
func NewBatchRepository(db *gorm.DB) fat.BatchRepository {
	return &batchRepository{db: db}
}

func (r *batchRepository) SaveBatch(ctx context.Context, batch *fat.TestBatchInfo) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "batch_id"}},
		UpdateAll: true,
	}).Create(batch).Error
}

func (r *batchRepository) LoadBatchByID(ctx context.Context, id uuid.UUID) (*fat.TestBatchInfo, error) {
	var batch fat.TestBatchInfo
	err := r.db.WithContext(ctx).Where("batch_id = ?", id).First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fat.NewNotFoundError("TestBatchInfo", id.String())
		}
		return nil, fat.NewPersistenceError("load test batch info", err)
	}
	return &batch, nil
}

func (r *batchRepository) LoadAllBatches(ctx context.Context) ([]fat.TestBatchInfo, error) {
	var batches []fat.TestBatchInfo
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&batches).Error; err != nil {
		return nil, fat.NewPersistenceError("load all test batch info", err)
	}
	return batches, nil
}

func (r *batchRepository) DeleteBatchByID(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("batch_id = ?", id).Delete(&fat.TestBatchInfo{})
	if result.Error != nil {
		return fat.NewPersistenceError("delete test batch info", result.Error)
	}
	if result.RowsAffected == 0 {
		return fat.NewNotFoundError("TestBatchInfo", id.String())
	}
	return nil
}
