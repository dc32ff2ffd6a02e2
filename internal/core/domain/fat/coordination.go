package fat

import (
	"context"

	"github.com/google/uuid"
)

// ChannelStateManager is the contract the Test Coordination Service depends
// on. internal/core/services/statemanager
// is its sole implementation; the interface exists so coordination can be
// unit-tested against a mock instead of a live Manager.
type ChannelStateManager interface {
	CacheDefinition(def ChannelPointDefinition)
	GetInstance(ctx context.Context, instanceID uuid.UUID) (ChannelTestInstance, error)
	GetDefinition(ctx context.Context, definitionID uuid.UUID) (ChannelPointDefinition, bool)

	Initialize(ctx context.Context, instance *ChannelTestInstance, def ChannelPointDefinition) error
	ApplyRawOutcome(ctx context.Context, instanceID uuid.UUID, outcome RawTestOutcome) error
	MarkAsSkipped(ctx context.Context, instanceID uuid.UUID) error
	PrepareForWiringConfirmation(ctx context.Context, instanceID uuid.UUID) error
	BeginHardPointTest(ctx context.Context, instanceID uuid.UUID) error
	BeginManualSubTest(ctx context.Context, instanceID uuid.UUID, item SubTestItem) error
	ResetForRetest(ctx context.Context, instanceID uuid.UUID) error
	ResetForReallocation(ctx context.Context, instanceID uuid.UUID) error
}

// TestExecutionEngine is the contract the Test Coordination Service dispatches
// per-instance work through. internal/core/services/execution is its sole
// implementation.
type TestExecutionEngine interface {
	SubmitTestInstance(ctx context.Context, instance ChannelTestInstance, def ChannelPointDefinition, results chan<- RawTestOutcome) (string, error)
	CancelTask(taskID string) error
}

// BatchStatistics is the per-batch rollup the result collector recomputes
// after every applied outcome.
type BatchStatistics struct {
	TotalChannels      int `json:"total_channels"`
	TestedChannels     int `json:"tested_channels"`
	PassedChannels     int `json:"passed_channels"`
	FailedChannels     int `json:"failed_channels"`
	SkippedChannels    int `json:"skipped_channels"`
	InProgressChannels int `json:"in_progress_channels"`
}

// TestRigConfigProvider supplies the Test Rig PLC configuration the
// Allocation Engine pairs DUT points against. Concrete implementations live
// in internal/infrastructure/repository/fat.
type TestRigConfigProvider interface {
	GetTestRigConfig(ctx context.Context) (TestRigConfig, error)
}

// EventPublisher fans out coordination-service lifecycle events to UI
// subscribers. pkg/events.Publisher is its sole implementation.
type EventPublisher interface {
	PublishTestStatusChanged(ctx context.Context, instanceID uuid.UUID, from, to OverallStatus) error
	PublishTestCompleted(ctx context.Context, outcome RawTestOutcome) error
	PublishBatchStatusChanged(ctx context.Context, batchID uuid.UUID, stats BatchStatistics) error
}
