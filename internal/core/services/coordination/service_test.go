package coordination

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"brokle/internal/core/domain/fat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockStateManager struct {
	mock.Mock
}

func (m *mockStateManager) CacheDefinition(def fat.ChannelPointDefinition) {
	m.Called(def)
}

func (m *mockStateManager) GetInstance(ctx context.Context, instanceID uuid.UUID) (fat.ChannelTestInstance, error) {
	args := m.Called(ctx, instanceID)
	return args.Get(0).(fat.ChannelTestInstance), args.Error(1)
}

func (m *mockStateManager) GetDefinition(ctx context.Context, definitionID uuid.UUID) (fat.ChannelPointDefinition, bool) {
	args := m.Called(ctx, definitionID)
	return args.Get(0).(fat.ChannelPointDefinition), args.Bool(1)
}

func (m *mockStateManager) Initialize(ctx context.Context, instance *fat.ChannelTestInstance, def fat.ChannelPointDefinition) error {
	args := m.Called(ctx, instance, def)
	return args.Error(0)
}

func (m *mockStateManager) ApplyRawOutcome(ctx context.Context, instanceID uuid.UUID, outcome fat.RawTestOutcome) error {
	args := m.Called(ctx, instanceID, outcome)
	return args.Error(0)
}

func (m *mockStateManager) MarkAsSkipped(ctx context.Context, instanceID uuid.UUID) error {
	args := m.Called(ctx, instanceID)
	return args.Error(0)
}

func (m *mockStateManager) PrepareForWiringConfirmation(ctx context.Context, instanceID uuid.UUID) error {
	args := m.Called(ctx, instanceID)
	return args.Error(0)
}

func (m *mockStateManager) BeginHardPointTest(ctx context.Context, instanceID uuid.UUID) error {
	args := m.Called(ctx, instanceID)
	return args.Error(0)
}

func (m *mockStateManager) BeginManualSubTest(ctx context.Context, instanceID uuid.UUID, item fat.SubTestItem) error {
	args := m.Called(ctx, instanceID, item)
	return args.Error(0)
}

func (m *mockStateManager) ResetForRetest(ctx context.Context, instanceID uuid.UUID) error {
	args := m.Called(ctx, instanceID)
	return args.Error(0)
}

func (m *mockStateManager) ResetForReallocation(ctx context.Context, instanceID uuid.UUID) error {
	args := m.Called(ctx, instanceID)
	return args.Error(0)
}

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) SubmitTestInstance(ctx context.Context, instance fat.ChannelTestInstance, def fat.ChannelPointDefinition, results chan<- fat.RawTestOutcome) (string, error) {
	args := m.Called(ctx, instance, def, results)
	return args.String(0), args.Error(1)
}

func (m *mockEngine) CancelTask(taskID string) error {
	args := m.Called(taskID)
	return args.Error(0)
}

type mockPersistence struct {
	mock.Mock
}

func (m *mockPersistence) SaveDefinition(ctx context.Context, def *fat.ChannelPointDefinition) error {
	args := m.Called(ctx, def)
	return args.Error(0)
}
func (m *mockPersistence) SaveDefinitionBulk(ctx context.Context, defs []fat.ChannelPointDefinition) error {
	args := m.Called(ctx, defs)
	return args.Error(0)
}
func (m *mockPersistence) LoadDefinitionByID(ctx context.Context, id uuid.UUID) (*fat.ChannelPointDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fat.ChannelPointDefinition), args.Error(1)
}
func (m *mockPersistence) LoadAllDefinitions(ctx context.Context) ([]fat.ChannelPointDefinition, error) {
	args := m.Called(ctx)
	return args.Get(0).([]fat.ChannelPointDefinition), args.Error(1)
}
func (m *mockPersistence) DeleteDefinitionByID(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *mockPersistence) SaveInstance(ctx context.Context, inst *fat.ChannelTestInstance) error {
	args := m.Called(ctx, inst)
	return args.Error(0)
}
func (m *mockPersistence) SaveInstanceBulk(ctx context.Context, insts []fat.ChannelTestInstance) error {
	args := m.Called(ctx, insts)
	return args.Error(0)
}
func (m *mockPersistence) LoadInstanceByID(ctx context.Context, id uuid.UUID) (*fat.ChannelTestInstance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fat.ChannelTestInstance), args.Error(1)
}
func (m *mockPersistence) LoadAllInstances(ctx context.Context) ([]fat.ChannelTestInstance, error) {
	args := m.Called(ctx)
	return args.Get(0).([]fat.ChannelTestInstance), args.Error(1)
}
func (m *mockPersistence) LoadInstancesByBatch(ctx context.Context, batchID uuid.UUID) ([]fat.ChannelTestInstance, error) {
	args := m.Called(ctx, batchID)
	return args.Get(0).([]fat.ChannelTestInstance), args.Error(1)
}
func (m *mockPersistence) DeleteInstanceByID(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *mockPersistence) SaveBatch(ctx context.Context, batch *fat.TestBatchInfo) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}
func (m *mockPersistence) LoadBatchByID(ctx context.Context, id uuid.UUID) (*fat.TestBatchInfo, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fat.TestBatchInfo), args.Error(1)
}
func (m *mockPersistence) LoadAllBatches(ctx context.Context) ([]fat.TestBatchInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).([]fat.TestBatchInfo), args.Error(1)
}
func (m *mockPersistence) DeleteBatchByID(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *mockPersistence) SaveOutcome(ctx context.Context, outcome *fat.RawTestOutcome) error {
	args := m.Called(ctx, outcome)
	return args.Error(0)
}
func (m *mockPersistence) SaveOutcomeBulk(ctx context.Context, outcomes []fat.RawTestOutcome) error {
	args := m.Called(ctx, outcomes)
	return args.Error(0)
}
func (m *mockPersistence) LoadOutcomesByInstance(ctx context.Context, instanceID uuid.UUID) ([]fat.RawTestOutcome, error) {
	args := m.Called(ctx, instanceID)
	return args.Get(0).([]fat.RawTestOutcome), args.Error(1)
}
func (m *mockPersistence) LoadOutcomesByBatch(ctx context.Context, batchID uuid.UUID) ([]fat.RawTestOutcome, error) {
	args := m.Called(ctx, batchID)
	return args.Get(0).([]fat.RawTestOutcome), args.Error(1)
}
func (m *mockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) PublishTestStatusChanged(ctx context.Context, instanceID uuid.UUID, from, to fat.OverallStatus) error {
	args := m.Called(ctx, instanceID, from, to)
	return args.Error(0)
}
func (m *mockEvents) PublishTestCompleted(ctx context.Context, outcome fat.RawTestOutcome) error {
	args := m.Called(ctx, outcome)
	return args.Error(0)
}
func (m *mockEvents) PublishBatchStatusChanged(ctx context.Context, batchID uuid.UUID, stats fat.BatchStatistics) error {
	args := m.Called(ctx, batchID, stats)
	return args.Error(0)
}

type mockRigConfig struct {
	mock.Mock
}

func (m *mockRigConfig) GetTestRigConfig(ctx context.Context) (fat.TestRigConfig, error) {
	args := m.Called(ctx)
	return args.Get(0).(fat.TestRigConfig), args.Error(1)
}

func newService(sm *mockStateManager, eng *mockEngine, persistence *mockPersistence, events *mockEvents, rig *mockRigConfig) *Service {
	return New(sm, eng, persistence, events, rig, testLogger())
}

func oneDefRig() (fat.ChannelPointDefinition, fat.TestRigConfig) {
	def := fat.ChannelPointDefinition{
		ID:         uuid.New(),
		Tag:        "1_AI001",
		ModuleType: fat.ModuleAI,
	}
	rig := fat.TestRigConfig{
		Entries: []fat.ChannelPointRigEntry{
			{ChannelAddress: "%AO1", CommunicationAddress: "%AO1", ChannelType: fat.ModuleAO, IsPowered: false},
		},
	}
	return def, rig
}

func TestSubmitTestExecution_RejectsEmptyDefinitions(t *testing.T) {
	svc := newService(new(mockStateManager), new(mockEngine), new(mockPersistence), new(mockEvents), new(mockRigConfig))

	_, err := svc.SubmitTestExecution(context.Background(), ExecutionRequest{})

	require.Error(t, err)
	assert.True(t, fat.IsValidationError(err))
}

func TestSubmitTestExecution_AllocatesAndRegistersBatchWithoutAutoStart(t *testing.T) {
	sm := new(mockStateManager)
	eng := new(mockEngine)
	persistence := new(mockPersistence)
	events := new(mockEvents)
	rig := new(mockRigConfig)

	def, rigCfg := oneDefRig()

	persistence.On("SaveBatch", mock.Anything, mock.Anything).Return(nil)
	rig.On("GetTestRigConfig", mock.Anything).Return(rigCfg, nil)
	sm.On("CacheDefinition", def).Return()
	sm.On("Initialize", mock.Anything, mock.Anything, def).Return(nil)

	svc := newService(sm, eng, persistence, events, rig)

	resp, err := svc.SubmitTestExecution(context.Background(), ExecutionRequest{
		BatchInfo:          fat.TestBatchInfo{BatchID: uuid.New()},
		ChannelDefinitions: []fat.ChannelPointDefinition{def},
	})

	require.NoError(t, err)
	require.Len(t, resp.AllBatches, 1)
	assert.Equal(t, 1, resp.InstanceCount)
	assert.Equal(t, "submitted", resp.Status)

	svc.mu.Lock()
	_, registered := svc.batches[resp.BatchID]
	svc.mu.Unlock()
	assert.True(t, registered)
}

func TestSubmitTestExecution_FallsBackToDefaultRigConfigOnFetchError(t *testing.T) {
	sm := new(mockStateManager)
	eng := new(mockEngine)
	persistence := new(mockPersistence)
	events := new(mockEvents)
	rig := new(mockRigConfig)

	def := fat.ChannelPointDefinition{ID: uuid.New(), Tag: "1_AI001", ModuleType: fat.ModuleAI}

	persistence.On("SaveBatch", mock.Anything, mock.Anything).Return(nil)
	rig.On("GetTestRigConfig", mock.Anything).Return(fat.TestRigConfig{}, assert.AnError)
	sm.On("CacheDefinition", def).Return()
	sm.On("Initialize", mock.Anything, mock.Anything, def).Return(nil)

	svc := newService(sm, eng, persistence, events, rig)

	resp, err := svc.SubmitTestExecution(context.Background(), ExecutionRequest{
		BatchInfo:          fat.TestBatchInfo{BatchID: uuid.New()},
		ChannelDefinitions: []fat.ChannelPointDefinition{def},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, resp.InstanceCount)
}

func TestStartBatchTesting_RejectsUnknownBatch(t *testing.T) {
	svc := newService(new(mockStateManager), new(mockEngine), new(mockPersistence), new(mockEvents), new(mockRigConfig))

	err := svc.StartBatchTesting(context.Background(), uuid.New())

	require.Error(t, err)
	assert.True(t, fat.IsNotFoundError(err))
}

func TestStartBatchTesting_SubmitsEachInstanceAndRecordsTaskMapping(t *testing.T) {
	sm := new(mockStateManager)
	eng := new(mockEngine)
	persistence := new(mockPersistence)
	events := new(mockEvents)
	rig := new(mockRigConfig)

	svc := newService(sm, eng, persistence, events, rig)

	batchID := uuid.New()
	def := fat.ChannelPointDefinition{ID: uuid.New(), ModuleType: fat.ModuleAI}
	instance := fat.ChannelTestInstance{InstanceID: uuid.New(), DefinitionID: def.ID, TestBatchID: batchID, OverallStatus: fat.StatusNotTested}

	svc.batches[batchID] = &batchExecution{
		info:         fat.TestBatchInfo{BatchID: batchID},
		definitions:  []fat.ChannelPointDefinition{def},
		instances:    []fat.ChannelTestInstance{instance},
		taskMappings: make(map[uuid.UUID]string),
		status:       fat.BatchSubmitted,
		resultCh:     make(chan fat.RawTestOutcome, 10),
	}

	events.On("PublishTestStatusChanged", mock.Anything, instance.InstanceID, fat.StatusNotTested, fat.StatusHardPointTesting).Return(nil)
	sm.On("BeginHardPointTest", mock.Anything, instance.InstanceID).Return(nil)
	eng.On("SubmitTestInstance", mock.Anything, instance, def, mock.Anything).Return("task-1", nil)

	err := svc.StartBatchTesting(context.Background(), batchID)

	require.NoError(t, err)
	assert.Equal(t, fat.BatchRunning, svc.batches[batchID].status)
	assert.Equal(t, "task-1", svc.batches[batchID].taskMappings[instance.InstanceID])
	eng.AssertExpectations(t)
}

func TestPauseBatchTesting_CancelsTasksAndRequiresRunning(t *testing.T) {
	sm := new(mockStateManager)
	eng := new(mockEngine)
	svc := newService(sm, eng, new(mockPersistence), new(mockEvents), new(mockRigConfig))

	batchID := uuid.New()
	svc.batches[batchID] = &batchExecution{
		status:       fat.BatchRunning,
		taskMappings: map[uuid.UUID]string{uuid.New(): "task-1"},
	}
	eng.On("CancelTask", "task-1").Return(nil)

	require.NoError(t, svc.PauseBatchTesting(context.Background(), batchID))
	assert.Equal(t, fat.BatchPaused, svc.batches[batchID].status)

	err := svc.PauseBatchTesting(context.Background(), batchID)
	require.Error(t, err)
	assert.True(t, fat.IsStateTransitionError(err))
}

func TestStopBatchTesting_IsANoOpWhenAlreadyTerminal(t *testing.T) {
	svc := newService(new(mockStateManager), new(mockEngine), new(mockPersistence), new(mockEvents), new(mockRigConfig))
	batchID := uuid.New()
	svc.batches[batchID] = &batchExecution{status: fat.BatchCompleted, taskMappings: map[uuid.UUID]string{}}

	require.NoError(t, svc.StopBatchTesting(context.Background(), batchID))
	assert.Equal(t, fat.BatchCompleted, svc.batches[batchID].status)
}

func TestCollectResults_PersistsAppliesAndMarksBatchCompleted(t *testing.T) {
	sm := new(mockStateManager)
	eng := new(mockEngine)
	persistence := new(mockPersistence)
	events := new(mockEvents)
	svc := newService(sm, eng, persistence, events, new(mockRigConfig))

	batchID := uuid.New()
	instanceID := uuid.New()
	exec := &batchExecution{
		info:         fat.TestBatchInfo{BatchID: batchID},
		instances:    []fat.ChannelTestInstance{{InstanceID: instanceID}},
		taskMappings: make(map[uuid.UUID]string),
		status:       fat.BatchRunning,
		resultCh:     make(chan fat.RawTestOutcome, 10),
	}
	svc.mu.Lock()
	svc.batches[batchID] = exec
	svc.mu.Unlock()

	outcome := fat.RawTestOutcome{ID: uuid.New(), ChannelInstanceID: instanceID, SubTestItem: fat.SubTestHardPoint, Success: true}

	persistence.On("SaveOutcome", mock.Anything, &outcome).Return(nil)
	sm.On("ApplyRawOutcome", mock.Anything, instanceID, outcome).Return(nil)
	events.On("PublishTestCompleted", mock.Anything, outcome).Return(nil)
	events.On("PublishBatchStatusChanged", mock.Anything, batchID, mock.Anything).Return(nil)

	done := make(chan struct{})
	go func() {
		svc.collectResults(batchID)
		close(done)
	}()

	exec.resultCh <- outcome
	close(exec.resultCh)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collectResults did not return after channel close")
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, fat.BatchCompleted, exec.status)
	require.Len(t, exec.collected, 1)
	persistence.AssertExpectations(t)
	sm.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestUpdateManualTestSubitem_AppliesOutcomeAndReturnsInstance(t *testing.T) {
	sm := new(mockStateManager)
	svc := newService(sm, new(mockEngine), new(mockPersistence), new(mockEvents), new(mockRigConfig))

	instanceID := uuid.New()
	refreshed := fat.ChannelTestInstance{InstanceID: instanceID, OverallStatus: fat.StatusManualTestInProgress}

	sm.On("ApplyRawOutcome", mock.Anything, instanceID, mock.MatchedBy(func(o fat.RawTestOutcome) bool {
		return o.SubTestItem == fat.SubTestStateDisplay && o.Success
	})).Return(nil)
	sm.On("GetInstance", mock.Anything, instanceID).Return(refreshed, nil)

	got, err := svc.UpdateManualTestSubitem(context.Background(), instanceID, fat.SubTestStateDisplay, true, "looks good")

	require.NoError(t, err)
	assert.Equal(t, refreshed, got)
}

func TestGetBatchResults_UnknownBatchReturnsNotFound(t *testing.T) {
	svc := newService(new(mockStateManager), new(mockEngine), new(mockPersistence), new(mockEvents), new(mockRigConfig))

	_, err := svc.GetBatchResults(context.Background(), uuid.New())

	require.Error(t, err)
	assert.True(t, fat.IsNotFoundError(err))
}
