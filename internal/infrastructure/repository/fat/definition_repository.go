// Package fat provides GORM-backed implementations of the domain
// persistence and Test Rig config contracts declared in
// internal/core/domain/fat.
package fat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"brokle/internal/core/domain/fat"
)

// definitionRepository implements fat.DefinitionRepository using GORM.
type definitionRepository struct {
	db *gorm.DB
}

// NewDefinitionRepository creates a new channel point definition repository.
func NewDefinitionRepository(db *gorm.DB) fat.DefinitionRepository {
	return &definitionRepository{db: db}
}

// SaveDefinition upserts by primary key, mirroring the check-then-insert-or-
// update pattern the source persistence layer uses for every entity.
func (r *definitionRepository) SaveDefinition(ctx context.Context, def *fat.ChannelPointDefinition) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(def).Error
}

func (r *definitionRepository) SaveDefinitionBulk(ctx context.Context, defs []fat.ChannelPointDefinition) error {
	if len(defs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).CreateInBatches(defs, 100).Error
}

func (r *definitionRepository) LoadDefinitionByID(ctx context.Context, id uuid.UUID) (*fat.ChannelPointDefinition, error) {
	var def fat.ChannelPointDefinition
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&def).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fat.NewNotFoundError("ChannelPointDefinition", id.String())
		}
		return nil, fat.NewPersistenceError("load channel point definition", err)
	}
	return &def, nil
}

func (r *definitionRepository) LoadAllDefinitions(ctx context.Context) ([]fat.ChannelPointDefinition, error) {
	var defs []fat.ChannelPointDefinition
	if err := r.db.WithContext(ctx).Order("sequence_number ASC").Find(&defs).Error; err != nil {
		return nil, fat.NewPersistenceError("load all channel point definitions", err)
	}
	return defs, nil
}

func (r *definitionRepository) DeleteDefinitionByID(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&fat.ChannelPointDefinition{})
	if result.Error != nil {
		return fat.NewPersistenceError("delete channel point definition", result.Error)
	}
	if result.RowsAffected == 0 {
		return fat.NewNotFoundError("ChannelPointDefinition", id.String())
	}
	return nil
}
