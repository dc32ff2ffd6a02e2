package fat

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"brokle/internal/core/domain/fat"
)

// outcomeRepository implements fat.OutcomeRepository using GORM.
type outcomeRepository struct {
	db *gorm.DB
}

// NewOutcomeRepository creates a new raw test outcome repository.
func NewOutcomeRepository(db *gorm.DB) fat.OutcomeRepository {
	return &outcomeRepository{db: db}
}

func (r *outcomeRepository) SaveOutcome(ctx context.Context, outcome *fat.RawTestOutcome) error {
	if err := r.db.WithContext(ctx).Create(outcome).Error; err != nil {
		return fat.NewPersistenceError("save raw test outcome", err)
	}
	return nil
}

func (r *outcomeRepository) SaveOutcomeBulk(ctx context.Context, outcomes []fat.RawTestOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(outcomes, 200).Error; err != nil {
		return fat.NewPersistenceError("save raw test outcomes in bulk", err)
	}
	return nil
}

func (r *outcomeRepository) LoadOutcomesByInstance(ctx context.Context, instanceID uuid.UUID) ([]fat.RawTestOutcome, error) {
	var outcomes []fat.RawTestOutcome
	err := r.db.WithContext(ctx).
		Where("channel_instance_id = ?", instanceID).
		Order("start_time ASC").
		Find(&outcomes).Error
	if err != nil {
		return nil, fat.NewPersistenceError("load raw test outcomes by instance", err)
	}
	return outcomes, nil
}

// LoadOutcomesByBatch joins through channel_test_instances since outcomes
// only carry their owning instance id, not a batch id directly.
func (r *outcomeRepository) LoadOutcomesByBatch(ctx context.Context, batchID uuid.UUID) ([]fat.RawTestOutcome, error) {
	var outcomes []fat.RawTestOutcome
	err := r.db.WithContext(ctx).
		Joins("JOIN channel_test_instances ON channel_test_instances.instance_id = raw_test_outcomes.channel_instance_id").
		Where("channel_test_instances.test_batch_id = ?", batchID).
		Order("raw_test_outcomes.start_time ASC").
		Find(&outcomes).Error
	if err != nil {
		return nil, fat.NewPersistenceError("load raw test outcomes by batch", err)
	}
	return outcomes, nil
}
