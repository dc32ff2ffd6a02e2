// Package coordination implements the Test Coordination Service: the
// in-memory scheduler that accepts batch submissions, dispatches per-instance
// test tasks to the Test Execution Engine, collects outcomes through a
// result stream, writes them through the Channel State Manager, and tracks
// per-batch lifecycle and statistics.
package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"brokle/internal/core/domain/fat"
	"brokle/internal/core/services/allocation"
)

// resultChannelCapacity matches BatchExecutionInfo::new's mpsc::channel(1000).
const resultChannelCapacity = 1000

// ExecutionRequest is a request to allocate and (optionally) start testing a
// set of channel point definitions.
type ExecutionRequest struct {
	BatchInfo          fat.TestBatchInfo
	ChannelDefinitions []fat.ChannelPointDefinition
	MaxConcurrentTests *int
	AutoStart          bool
}

// ExecutionResponse reports the outcome of one ExecutionRequest.
type ExecutionResponse struct {
	BatchID       uuid.UUID
	AllBatches    []fat.TestBatchInfo
	InstanceCount int
	Status        string
	Message       string
}

// ProgressUpdate is a point-in-time progress snapshot for one instance.
type ProgressUpdate struct {
	BatchID           uuid.UUID
	InstanceID        uuid.UUID
	PointTag          string
	OverallStatus     fat.OverallStatus
	CompletedSubTests int
	TotalSubTests     int
	LatestResult      *fat.RawTestOutcome
	Timestamp         time.Time
}

type batchExecution struct {
	info         fat.TestBatchInfo
	definitions  []fat.ChannelPointDefinition
	instances    []fat.ChannelTestInstance
	taskMappings map[uuid.UUID]string
	status       fat.BatchExecutionStatus
	resultCh     chan fat.RawTestOutcome
	collected    []fat.RawTestOutcome
	createdAt    time.Time
	startedAt    *time.Time
	completedAt  *time.Time
}

// Service is the Test Coordination Service.
type Service struct {
	stateManager    fat.ChannelStateManager
	executionEngine fat.TestExecutionEngine
	persistence     fat.PersistenceService
	events          fat.EventPublisher
	rigConfig       fat.TestRigConfigProvider
	logger          *slog.Logger

	mu      sync.Mutex
	batches map[uuid.UUID]*batchExecution
}

func New(
	stateManager fat.ChannelStateManager,
	executionEngine fat.TestExecutionEngine,
	persistence fat.PersistenceService,
	events fat.EventPublisher,
	rigConfig fat.TestRigConfigProvider,
	logger *slog.Logger,
) *Service {
	return &Service{
		stateManager:    stateManager,
		executionEngine: executionEngine,
		persistence:     persistence,
		events:          events,
		rigConfig:       rigConfig,
		logger:          logger,
		batches:         make(map[uuid.UUID]*batchExecution),
	}
}

// SubmitTestExecution validates and persists the batch, allocates channels
// against the current test rig configuration, registers one batchExecution
// per produced batch and, if requested, starts them immediately.
func (s *Service) SubmitTestExecution(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error) {
	if len(req.ChannelDefinitions) == 0 {
		return nil, fat.NewValidationError("channel definitions must not be empty")
	}

	if err := s.persistence.SaveBatch(ctx, &req.BatchInfo); err != nil {
		return nil, fat.NewPersistenceError("failed to save batch info", err)
	}

	rig, err := s.rigConfig.GetTestRigConfig(ctx)
	if err != nil {
		s.logger.Warn("failed to load test rig config, using defaults", "error", err)
		rig = fat.TestRigConfig{BrandType: "ModbusTcp", IPAddress: "127.0.0.1"}
	}

	result := allocation.Allocate(req.ChannelDefinitions, rig, req.BatchInfo.ProductModel, req.BatchInfo.SerialNumber)

	defsByID := make(map[uuid.UUID]fat.ChannelPointDefinition, len(req.ChannelDefinitions))
	for _, d := range req.ChannelDefinitions {
		defsByID[d.ID] = d
		s.stateManager.CacheDefinition(d)
	}

	instancesByBatch := make(map[uuid.UUID][]fat.ChannelTestInstance)
	for _, inst := range result.AllocatedInstances {
		instancesByBatch[inst.TestBatchID] = append(instancesByBatch[inst.TestBatchID], inst)
	}

	if len(result.Batches) == 0 {
		return nil, fat.NewValidationError("allocation produced no batches").WithDetail("errors", result.Errors)
	}

	totalInstances := 0
	for i := range result.Batches {
		batch := result.Batches[i]
		batch.OverallStatus = fat.BatchSubmitted

		if err := s.persistence.SaveBatch(ctx, &batch); err != nil {
			s.logger.Error("failed to save allocated batch", "batch_id", batch.BatchID, "error", err)
			continue
		}

		instances := instancesByBatch[batch.BatchID]
		for j := range instances {
			def := defsByID[instances[j].DefinitionID]
			if err := s.stateManager.Initialize(ctx, &instances[j], def); err != nil {
				s.logger.Error("failed to initialize test instance", "instance_id", instances[j].InstanceID, "error", err)
			}
		}

		exec := &batchExecution{
			info:         batch,
			definitions:  req.ChannelDefinitions,
			instances:    instances,
			taskMappings: make(map[uuid.UUID]string),
			status:       fat.BatchSubmitted,
			resultCh:     make(chan fat.RawTestOutcome, resultChannelCapacity),
			createdAt:    time.Now(),
		}

		s.mu.Lock()
		s.batches[batch.BatchID] = exec
		s.mu.Unlock()

		go s.collectResults(batch.BatchID)

		totalInstances += len(instances)
		result.Batches[i] = batch
	}

	if req.AutoStart {
		for _, batch := range result.Batches {
			if err := s.StartBatchTesting(ctx, batch.BatchID); err != nil {
				s.logger.Warn("failed to auto-start batch", "batch_id", batch.BatchID, "error", err)
			}
		}
	}

	status := "submitted"
	if req.AutoStart {
		status = "running"
	}

	return &ExecutionResponse{
		BatchID:       result.Batches[0].BatchID,
		AllBatches:    result.Batches,
		InstanceCount: totalInstances,
		Status:        status,
		Message:       fmt.Sprintf("allocated %d batch(es), %d test instance(s)", len(result.Batches), totalInstances),
	}, nil
}

// LoadExistingBatch brings a previously-allocated batch back into the active
// set, loading its instances and definitions from the store.
func (s *Service) LoadExistingBatch(ctx context.Context, batchID uuid.UUID) error {
	s.mu.Lock()
	_, exists := s.batches[batchID]
	s.mu.Unlock()
	if exists {
		return nil
	}

	batch, err := s.persistence.LoadBatchByID(ctx, batchID)
	if err != nil {
		return fat.NewPersistenceError("failed to load batch", err)
	}
	if batch == nil {
		return fat.NewNotFoundError("test batch", batchID.String())
	}

	instances, err := s.persistence.LoadInstancesByBatch(ctx, batchID)
	if err != nil {
		return fat.NewPersistenceError("failed to load batch instances", err)
	}
	if len(instances) == 0 {
		return fat.NewValidationError("batch has no test instances").WithDetail("batch_id", batchID)
	}

	defsByID := make(map[uuid.UUID]fat.ChannelPointDefinition)
	var definitions []fat.ChannelPointDefinition
	for _, inst := range instances {
		if _, ok := defsByID[inst.DefinitionID]; ok {
			continue
		}
		def, ok := s.stateManager.GetDefinition(ctx, inst.DefinitionID)
		if !ok {
			s.logger.Warn("missing channel definition for instance", "instance_id", inst.InstanceID, "definition_id", inst.DefinitionID)
			continue
		}
		defsByID[inst.DefinitionID] = def
		definitions = append(definitions, def)
	}
	if len(definitions) == 0 {
		return fat.NewValidationError("no channel definitions found for batch").WithDetail("batch_id", batchID)
	}

	exec := &batchExecution{
		info:         *batch,
		definitions:  definitions,
		instances:    instances,
		taskMappings: make(map[uuid.UUID]string),
		status:       batch.OverallStatus,
		resultCh:     make(chan fat.RawTestOutcome, resultChannelCapacity),
		createdAt:    time.Now(),
	}

	s.mu.Lock()
	s.batches[batchID] = exec
	s.mu.Unlock()

	go s.collectResults(batchID)
	return nil
}

// StartBatchTesting submits every instance in batchID to the execution
// engine. Requires the batch to be Submitted or Paused.
func (s *Service) StartBatchTesting(ctx context.Context, batchID uuid.UUID) error {
	s.mu.Lock()
	exec, ok := s.batches[batchID]
	if !ok {
		s.mu.Unlock()
		return fat.NewNotFoundError("batch execution", batchID.String())
	}
	if exec.status != fat.BatchSubmitted && exec.status != fat.BatchPaused {
		status := exec.status
		s.mu.Unlock()
		return fat.NewStateTransitionError(fmt.Sprintf("batch status does not allow start: %s", status))
	}
	exec.status = fat.BatchRunning
	now := time.Now()
	exec.startedAt = &now
	instances := append([]fat.ChannelTestInstance(nil), exec.instances...)
	definitions := exec.definitions
	resultCh := exec.resultCh
	s.mu.Unlock()

	defsByID := make(map[uuid.UUID]fat.ChannelPointDefinition, len(definitions))
	for _, d := range definitions {
		defsByID[d.ID] = d
	}

	for _, instance := range instances {
		def, ok := defsByID[instance.DefinitionID]
		if !ok {
			s.logger.Warn("no definition for instance, skipping submission", "instance_id", instance.InstanceID)
			continue
		}

		if err := s.events.PublishTestStatusChanged(ctx, instance.InstanceID, instance.OverallStatus, fat.StatusHardPointTesting); err != nil {
			s.logger.Warn("failed to publish test status changed event", "instance_id", instance.InstanceID, "error", err)
		}
		if err := s.stateManager.BeginHardPointTest(ctx, instance.InstanceID); err != nil {
			s.logger.Error("failed to begin hard-point test", "instance_id", instance.InstanceID, "error", err)
			continue
		}

		taskID, err := s.executionEngine.SubmitTestInstance(ctx, instance, def, resultCh)
		if err != nil {
			s.logger.Error("failed to submit test instance", "instance_id", instance.InstanceID, "error", err)
			continue
		}

		s.mu.Lock()
		exec.taskMappings[instance.InstanceID] = taskID
		s.mu.Unlock()
	}

	return nil
}

// PauseBatchTesting cancels every outstanding task for batchID. Requires
// Running.
func (s *Service) PauseBatchTesting(ctx context.Context, batchID uuid.UUID) error {
	s.mu.Lock()
	exec, ok := s.batches[batchID]
	if !ok {
		s.mu.Unlock()
		return fat.NewNotFoundError("batch execution", batchID.String())
	}
	if exec.status != fat.BatchRunning {
		status := exec.status
		s.mu.Unlock()
		return fat.NewStateTransitionError(fmt.Sprintf("batch status does not allow pause: %s", status))
	}
	tasks := taskIDs(exec)
	exec.status = fat.BatchPaused
	s.mu.Unlock()

	s.cancelTasks(tasks)
	return nil
}

// ResumeBatchTesting resubmits every instance via StartBatchTesting.
// Requires Paused.
func (s *Service) ResumeBatchTesting(ctx context.Context, batchID uuid.UUID) error {
	s.mu.Lock()
	exec, ok := s.batches[batchID]
	if !ok {
		s.mu.Unlock()
		return fat.NewNotFoundError("batch execution", batchID.String())
	}
	status := exec.status
	s.mu.Unlock()

	if status != fat.BatchPaused {
		return fat.NewStateTransitionError(fmt.Sprintf("batch status does not allow resume: %s", status))
	}
	return s.StartBatchTesting(ctx, batchID)
}

// StopBatchTesting cancels every outstanding task and marks the batch
// Stopped. Permitted from any non-terminal state; a no-op if already
// Completed or Stopped.
func (s *Service) StopBatchTesting(ctx context.Context, batchID uuid.UUID) error {
	s.mu.Lock()
	exec, ok := s.batches[batchID]
	if !ok {
		s.mu.Unlock()
		return fat.NewNotFoundError("batch execution", batchID.String())
	}
	if exec.status == fat.BatchCompleted || exec.status == fat.BatchStopped {
		s.mu.Unlock()
		return nil
	}
	tasks := taskIDs(exec)
	exec.status = fat.BatchStopped
	now := time.Now()
	exec.completedAt = &now
	s.mu.Unlock()

	s.cancelTasks(tasks)
	return nil
}

func taskIDs(exec *batchExecution) []string {
	tasks := make([]string, 0, len(exec.taskMappings))
	for _, taskID := range exec.taskMappings {
		tasks = append(tasks, taskID)
	}
	return tasks
}

func (s *Service) cancelTasks(taskIDs []string) {
	for _, taskID := range taskIDs {
		if err := s.executionEngine.CancelTask(taskID); err != nil {
			s.logger.Warn("failed to cancel task", "task_id", taskID, "error", err)
		}
	}
}

// GetBatchProgress reports live per-instance progress for batchID, reading
// current sub-test counts through the Channel State Manager.
func (s *Service) GetBatchProgress(ctx context.Context, batchID uuid.UUID) ([]ProgressUpdate, error) {
	s.mu.Lock()
	exec, ok := s.batches[batchID]
	s.mu.Unlock()
	if !ok {
		return nil, fat.NewNotFoundError("batch execution", batchID.String())
	}

	updates := make([]ProgressUpdate, 0, len(exec.instances))
	for _, inst := range exec.instances {
		current, err := s.stateManager.GetInstance(ctx, inst.InstanceID)
		if err != nil {
			current = inst
		}

		total := len(current.SubTestResults)
		completed := 0
		for _, r := range current.SubTestResults {
			if r.Status.IsTerminal() {
				completed++
			}
		}

		updates = append(updates, ProgressUpdate{
			BatchID:           batchID,
			InstanceID:        inst.InstanceID,
			PointTag:          current.TestPlcChannelTag,
			OverallStatus:     current.OverallStatus,
			CompletedSubTests: completed,
			TotalSubTests:     total,
			LatestResult:      s.latestResultFor(exec, inst.InstanceID),
			Timestamp:         time.Now(),
		})
	}
	return updates, nil
}

func (s *Service) latestResultFor(exec *batchExecution, instanceID uuid.UUID) *fat.RawTestOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(exec.collected) - 1; i >= 0; i-- {
		if exec.collected[i].ChannelInstanceID == instanceID {
			o := exec.collected[i]
			return &o
		}
	}
	return nil
}

// GetBatchResults returns every outcome collected so far for batchID.
func (s *Service) GetBatchResults(ctx context.Context, batchID uuid.UUID) ([]fat.RawTestOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.batches[batchID]
	if !ok {
		return nil, fat.NewNotFoundError("batch execution", batchID.String())
	}
	out := make([]fat.RawTestOutcome, len(exec.collected))
	copy(out, exec.collected)
	return out, nil
}

// CleanupCompletedBatch drops batchID from the active set. Requires
// Completed or Stopped.
func (s *Service) CleanupCompletedBatch(ctx context.Context, batchID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.batches[batchID]
	if !ok {
		return nil
	}
	if exec.status != fat.BatchCompleted && exec.status != fat.BatchStopped {
		return fat.NewStateTransitionError(fmt.Sprintf("batch status does not allow cleanup: %s", exec.status))
	}
	delete(s.batches, batchID)
	return nil
}

// StartSingleChannelTest submits one instance for hard-point testing outside
// the normal batch start flow, loading its batch into the active set first
// if necessary.
func (s *Service) StartSingleChannelTest(ctx context.Context, instanceID uuid.UUID) error {
	instance, err := s.stateManager.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	def, ok := s.stateManager.GetDefinition(ctx, instance.DefinitionID)
	if !ok {
		return fat.NewNotFoundError("channel definition", instance.DefinitionID.String())
	}

	if err := s.LoadExistingBatch(ctx, instance.TestBatchID); err != nil {
		return err
	}

	s.mu.Lock()
	exec, ok := s.batches[instance.TestBatchID]
	s.mu.Unlock()
	if !ok {
		return fat.NewNotFoundError("batch execution", instance.TestBatchID.String())
	}

	if err := s.events.PublishTestStatusChanged(ctx, instanceID, instance.OverallStatus, fat.StatusHardPointTesting); err != nil {
		s.logger.Warn("failed to publish test status changed event", "instance_id", instanceID, "error", err)
	}
	if err := s.stateManager.BeginHardPointTest(ctx, instanceID); err != nil {
		return err
	}

	taskID, err := s.executionEngine.SubmitTestInstance(ctx, instance, def, exec.resultCh)
	if err != nil {
		return err
	}

	s.mu.Lock()
	exec.taskMappings[instanceID] = taskID
	s.mu.Unlock()
	return nil
}

// StartManualTest transitions item into ManualTestInProgress and returns the
// refreshed instance.
func (s *Service) StartManualTest(ctx context.Context, instanceID uuid.UUID, item fat.SubTestItem) (fat.ChannelTestInstance, error) {
	if err := s.stateManager.BeginManualSubTest(ctx, instanceID, item); err != nil {
		return fat.ChannelTestInstance{}, err
	}
	return s.stateManager.GetInstance(ctx, instanceID)
}

// UpdateManualTestSubitem converts an operator's verdict for item into a
// RawTestOutcome and applies it through the Channel State Manager.
func (s *Service) UpdateManualTestSubitem(ctx context.Context, instanceID uuid.UUID, item fat.SubTestItem, passed bool, operatorNotes string) (fat.ChannelTestInstance, error) {
	outcome := fat.RawTestOutcome{
		ID:                uuid.New(),
		ChannelInstanceID: instanceID,
		SubTestItem:       item,
		Success:           passed,
		StartTime:         time.Now(),
		EndTime:           time.Now(),
		Message:           operatorNotes,
	}
	if err := s.stateManager.ApplyRawOutcome(ctx, instanceID, outcome); err != nil {
		return fat.ChannelTestInstance{}, err
	}
	return s.stateManager.GetInstance(ctx, instanceID)
}

// GetManualTestStatus returns the current instance state for manual-test UI
// polling.
func (s *Service) GetManualTestStatus(ctx context.Context, instanceID uuid.UUID) (fat.ChannelTestInstance, error) {
	return s.stateManager.GetInstance(ctx, instanceID)
}

// collectResults is the per-batch result collector. It runs for the
// lifetime of exec.resultCh and exits when the channel is closed.
func (s *Service) collectResults(batchID uuid.UUID) {
	s.mu.Lock()
	exec, ok := s.batches[batchID]
	s.mu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()
	for outcome := range exec.resultCh {
		if err := s.persistence.SaveOutcome(ctx, &outcome); err != nil {
			s.logger.Error("failed to persist test outcome", "instance_id", outcome.ChannelInstanceID, "error", err)
		}

		if err := s.stateManager.ApplyRawOutcome(ctx, outcome.ChannelInstanceID, outcome); err != nil {
			s.logger.Error("failed to apply test outcome", "instance_id", outcome.ChannelInstanceID, "error", err)
		} else if err := s.events.PublishTestCompleted(ctx, outcome); err != nil {
			s.logger.Warn("failed to publish test completed event", "instance_id", outcome.ChannelInstanceID, "error", err)
		}

		s.mu.Lock()
		exec.collected = append(exec.collected, outcome)
		stats := recomputeStats(exec)
		done := stats.TestedChannels+stats.SkippedChannels >= stats.TotalChannels
		if done {
			exec.status = fat.BatchCompleted
			now := time.Now()
			exec.completedAt = &now
		}
		s.mu.Unlock()

		if err := s.events.PublishBatchStatusChanged(ctx, batchID, stats); err != nil {
			s.logger.Warn("failed to publish batch status changed event", "batch_id", batchID, "error", err)
		}
	}
}

// recomputeStats groups exec.collected by instance and derives the
// tested/passed/failed/skipped/in_progress totals. Caller must hold s.mu.
func recomputeStats(exec *batchExecution) fat.BatchStatistics {
	byInstance := make(map[uuid.UUID][]fat.RawTestOutcome, len(exec.instances))
	for _, o := range exec.collected {
		byInstance[o.ChannelInstanceID] = append(byInstance[o.ChannelInstanceID], o)
	}

	stats := fat.BatchStatistics{TotalChannels: len(exec.instances)}
	for _, inst := range exec.instances {
		group, ok := byInstance[inst.InstanceID]
		if !ok {
			stats.SkippedChannels++
			continue
		}

		hasHardPoint, allSuccess := false, true
		for _, o := range group {
			if o.SubTestItem == fat.SubTestHardPoint {
				hasHardPoint = true
				if !o.Success {
					allSuccess = false
				}
			}
		}
		if !hasHardPoint {
			stats.InProgressChannels++
			continue
		}
		stats.TestedChannels++
		if allSuccess {
			stats.PassedChannels++
		} else {
			stats.FailedChannels++
		}
	}
	return stats
}
