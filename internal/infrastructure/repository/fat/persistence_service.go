package fat

import (
	"context"

	"gorm.io/gorm"

	"brokle/internal/core/domain/fat"
)

// persistenceService bundles the four GORM repositories into a single
// fat.PersistenceService, mirroring the source's one
// SqliteOrmPersistenceService struct backing every table.
type persistenceService struct {
	fat.DefinitionRepository
	fat.InstanceRepository
	fat.BatchRepository
	fat.OutcomeRepository

	db *gorm.DB
}

// NewPersistenceService wires all four repositories against db.
func NewPersistenceService(db *gorm.DB) fat.PersistenceService {
	return &persistenceService{
		DefinitionRepository: NewDefinitionRepository(db),
		InstanceRepository:   NewInstanceRepository(db),
		BatchRepository:      NewBatchRepository(db),
		OutcomeRepository:    NewOutcomeRepository(db),
		db:                   db,
	}
}

func (s *persistenceService) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fat.NewPersistenceError("acquire underlying sql.DB", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fat.NewPersistenceError("ping database", err)
	}
	return nil
}

// Migrate creates or updates the FAT tables. Called once at startup, the
// same place the original called its setup_schema during construction.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&fat.ChannelPointDefinition{},
		&fat.TestBatchInfo{},
		&fat.ChannelTestInstance{},
		&fat.RawTestOutcome{},
		&rigConfigRow{},
	)
}
