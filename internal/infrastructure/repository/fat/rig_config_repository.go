package fat

import (
	"context"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"brokle/internal/core/domain/fat"
)

// rigConfigRow is the single persisted row describing the Test Rig PLC, the
// Go analogue of the original's plc_connection_config /
// channel_mapping_config tables collapsed into one record since the
// Allocation Engine only ever needs one active rig at a time.
type rigConfigRow struct {
	ID        int                          `gorm:"column:id;primaryKey"`
	BrandType string                       `gorm:"column:brand_type"`
	IPAddress string                       `gorm:"column:ip_address"`
	Entries   datatypes.JSONType[[]fat.ChannelPointRigEntry] `gorm:"column:entries"`
}

func (rigConfigRow) TableName() string { return "test_rig_configs" }

const rigConfigRowID = 1

// RigConfigStore extends fat.TestRigConfigProvider with the write side an
// operator-facing config upload handler needs.
type RigConfigStore interface {
	fat.TestRigConfigProvider
	SaveTestRigConfig(ctx context.Context, cfg fat.TestRigConfig) error
}

// rigConfigRepository implements RigConfigStore using GORM, always reading
// and writing the single row at rigConfigRowID.
type rigConfigRepository struct {
	db *gorm.DB
}

// NewRigConfigRepository creates a new Test Rig config store.
func NewRigConfigRepository(db *gorm.DB) RigConfigStore {
	return &rigConfigRepository{db: db}
}

func (r *rigConfigRepository) GetTestRigConfig(ctx context.Context) (fat.TestRigConfig, error) {
	var row rigConfigRow
	err := r.db.WithContext(ctx).Where("id = ?", rigConfigRowID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fat.TestRigConfig{}, fat.NewNotFoundError("TestRigConfig", "default")
		}
		return fat.TestRigConfig{}, fat.NewPersistenceError("load test rig config", err)
	}
	return fat.TestRigConfig{
		BrandType: row.BrandType,
		IPAddress: row.IPAddress,
		Entries:   row.Entries.Data(),
	}, nil
}

// SaveTestRigConfig persists cfg as the single active Test Rig config. Not
// part of fat.TestRigConfigProvider — exposed for the configuration-facing
// HTTP handlers that let an operator upload a new rig layout.
func (r *rigConfigRepository) SaveTestRigConfig(ctx context.Context, cfg fat.TestRigConfig) error {
	row := rigConfigRow{
		ID:        rigConfigRowID,
		BrandType: cfg.BrandType,
		IPAddress: cfg.IPAddress,
		Entries:   datatypes.NewJSONType(cfg.Entries),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}
