package fat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"brokle/internal/core/domain/fat"
)

// instanceRepository implements fat.InstanceRepository using GORM.
type instanceRepository struct {
	db *gorm.DB
}

// NewInstanceRepository creates a new channel test instance repository.
func NewInstanceRepository(db *gorm.DB) fat.InstanceRepository {
	return &instanceRepository{db: db}
}

func (r *instanceRepository) SaveInstance(ctx context.Context, inst *fat.ChannelTestInstance) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instance_id"}},
		UpdateAll: true,
	}).Create(inst).Error
}

func (r *instanceRepository) SaveInstanceBulk(ctx context.Context, insts []fat.ChannelTestInstance) error {
	if len(insts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instance_id"}},
		UpdateAll: true,
	}).CreateInBatches(insts, 100).Error
}

func (r *instanceRepository) LoadInstanceByID(ctx context.Context, id uuid.UUID) (*fat.ChannelTestInstance, error) {
	var inst fat.ChannelTestInstance
	err := r.db.WithContext(ctx).Where("instance_id = ?", id).First(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fat.NewNotFoundError("ChannelTestInstance", id.String())
		}
		return nil, fat.NewPersistenceError("load channel test instance", err)
	}
	return &inst, nil
}

func (r *instanceRepository) LoadAllInstances(ctx context.Context) ([]fat.ChannelTestInstance, error) {
	var insts []fat.ChannelTestInstance
	if err := r.db.WithContext(ctx).Find(&insts).Error; err != nil {
		return nil, fat.NewPersistenceError("load all channel test instances", err)
	}
	return insts, nil
}

func (r *instanceRepository) LoadInstancesByBatch(ctx context.Context, batchID uuid.UUID) ([]fat.ChannelTestInstance, error) {
	var insts []fat.ChannelTestInstance
	err := r.db.WithContext(ctx).Where("test_batch_id = ?", batchID).Find(&insts).Error
	if err != nil {
		return nil, fat.NewPersistenceError("load channel test instances by batch", err)
	}
	return insts, nil
}

func (r *instanceRepository) DeleteInstanceByID(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("instance_id = ?", id).Delete(&fat.ChannelTestInstance{})
	if result.Error != nil {
		return fat.NewPersistenceError("delete channel test instance", result.Error)
	}
	if result.RowsAffected == 0 {
		return fat.NewNotFoundError("ChannelTestInstance", id.String())
	}
	return nil
}
