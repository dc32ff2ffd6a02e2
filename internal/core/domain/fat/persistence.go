package fat

import (
	"context"

	"github.com/google/uuid"
)

// DefinitionRepository is the CRUD contract over ChannelPointDefinition rows.
type DefinitionRepository interface {
	SaveDefinition(ctx context.Context, def *ChannelPointDefinition) error
	SaveDefinitionBulk(ctx context.Context, defs []ChannelPointDefinition) error
	LoadDefinitionByID(ctx context.Context, id uuid.UUID) (*ChannelPointDefinition, error)
	LoadAllDefinitions(ctx context.Context) ([]ChannelPointDefinition, error)
	DeleteDefinitionByID(ctx context.Context, id uuid.UUID) error
}

// InstanceRepository is the CRUD contract over ChannelTestInstance rows.
type InstanceRepository interface {
	SaveInstance(ctx context.Context, inst *ChannelTestInstance) error
	SaveInstanceBulk(ctx context.Context, insts []ChannelTestInstance) error
	LoadInstanceByID(ctx context.Context, id uuid.UUID) (*ChannelTestInstance, error)
	LoadAllInstances(ctx context.Context) ([]ChannelTestInstance, error)
	LoadInstancesByBatch(ctx context.Context, batchID uuid.UUID) ([]ChannelTestInstance, error)
	DeleteInstanceByID(ctx context.Context, id uuid.UUID) error
}

// BatchRepository is the CRUD contract over TestBatchInfo rows.
type BatchRepository interface {
	SaveBatch(ctx context.Context, batch *TestBatchInfo) error
	LoadBatchByID(ctx context.Context, id uuid.UUID) (*TestBatchInfo, error)
	LoadAllBatches(ctx context.Context) ([]TestBatchInfo, error)
	DeleteBatchByID(ctx context.Context, id uuid.UUID) error
}

// OutcomeRepository is the append-and-query contract over RawTestOutcome rows.
type OutcomeRepository interface {
	SaveOutcome(ctx context.Context, outcome *RawTestOutcome) error
	SaveOutcomeBulk(ctx context.Context, outcomes []RawTestOutcome) error
	LoadOutcomesByInstance(ctx context.Context, instanceID uuid.UUID) ([]RawTestOutcome, error)
	LoadOutcomesByBatch(ctx context.Context, batchID uuid.UUID) ([]RawTestOutcome, error)
}

// PersistenceService aggregates the four repository contracts plus a health
// check, matching the system's single "key-addressable store" framing.
// Concrete implementations (GORM/Postgres, GORM/SQLite) live in
// internal/infrastructure/repository/fat.
type PersistenceService interface {
	DefinitionRepository
	InstanceRepository
	BatchRepository
	OutcomeRepository

	HealthCheck(ctx context.Context) error
}
