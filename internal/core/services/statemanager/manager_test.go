package statemanager

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"brokle/internal/core/domain/fat"
)

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
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
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
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fat.ChannelTestInstance), args.Error(1)
}

func (m *mockPersistence) LoadInstancesByBatch(ctx context.Context, batchID uuid.UUID) ([]fat.ChannelTestInstance, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
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
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
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
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fat.RawTestOutcome), args.Error(1)
}

func (m *mockPersistence) LoadOutcomesByBatch(ctx context.Context, batchID uuid.UUID) ([]fat.RawTestOutcome, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fat.RawTestOutcome), args.Error(1)
}

func (m *mockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func newInstance(defID uuid.UUID) *fat.ChannelTestInstance {
	return &fat.ChannelTestInstance{
		InstanceID:     uuid.New(),
		DefinitionID:   defID,
		SubTestResults: make(map[fat.SubTestItem]fat.SubTestExecutionResult),
	}
}

func outcomeFor(instanceID uuid.UUID, item fat.SubTestItem, success bool) fat.RawTestOutcome {
	return fat.RawTestOutcome{
		ID:                uuid.New(),
		ChannelInstanceID: instanceID,
		SubTestItem:       item,
		Success:           success,
	}
}

func TestInitialize_AISeedsSevenSubTests(t *testing.T) {
	persistence := new(mockPersistence)
	persistence.On("SaveInstance", mock.Anything, mock.Anything).Return(nil)
	mgr := New(persistence)

	setpoint := 10.0
	def := fat.ChannelPointDefinition{
		ID: uuid.New(), Tag: "1_AI001", ModuleType: fat.ModuleAI,
		SLL: &fat.AlarmSetpoint{Value: &setpoint},
		SL:  &fat.AlarmSetpoint{Value: &setpoint},
		SH:  &fat.AlarmSetpoint{Value: &setpoint},
		SHH: &fat.AlarmSetpoint{Value: &setpoint},
	}
	instance := newInstance(def.ID)

	require.NoError(t, mgr.Initialize(context.Background(), instance, def))

	assert.Len(t, instance.SubTestResults, 7)
	assert.Equal(t, fat.StatusNotTested, instance.OverallStatus)
	for _, result := range instance.SubTestResults {
		assert.Equal(t, fat.SubTestNotTested, result.Status)
	}
}

func TestInitialize_ReservedTagSkipsEverythingButHardPointAndStateDisplay(t *testing.T) {
	persistence := new(mockPersistence)
	persistence.On("SaveInstance", mock.Anything, mock.Anything).Return(nil)
	mgr := New(persistence)

	def := fat.ChannelPointDefinition{ID: uuid.New(), Tag: "1_yldw_001", ModuleType: fat.ModuleAI}
	instance := newInstance(def.ID)

	require.NoError(t, mgr.Initialize(context.Background(), instance, def))

	assert.Equal(t, fat.SubTestNotTested, instance.SubTestResults[fat.SubTestHardPoint].Status)
	assert.Equal(t, fat.SubTestNotTested, instance.SubTestResults[fat.SubTestStateDisplay].Status)
	assert.Equal(t, fat.SubTestSkipped, instance.SubTestResults[fat.SubTestMaintenance].Status)
	assert.Equal(t, "reserved point", instance.SubTestResults[fat.SubTestLowAlarm].Details)
}

func TestInitialize_AllAlarmsAbsentSkipsMaintenanceToo(t *testing.T) {
	persistence := new(mockPersistence)
	persistence.On("SaveInstance", mock.Anything, mock.Anything).Return(nil)
	mgr := New(persistence)

	def := fat.ChannelPointDefinition{ID: uuid.New(), Tag: "1_AI001", ModuleType: fat.ModuleAI}
	instance := newInstance(def.ID)

	require.NoError(t, mgr.Initialize(context.Background(), instance, def))

	assert.Equal(t, fat.SubTestSkipped, instance.SubTestResults[fat.SubTestLowLowAlarm].Status)
	assert.Equal(t, fat.SubTestSkipped, instance.SubTestResults[fat.SubTestMaintenance].Status)
	assert.Equal(t, "no alarm set values", instance.SubTestResults[fat.SubTestHighHighAlarm].Details)
	assert.Equal(t, fat.SubTestNotTested, instance.SubTestResults[fat.SubTestHardPoint].Status)
}

func TestInitialize_PartialAlarmsOnlySkipsTheEmptyOnes(t *testing.T) {
	persistence := new(mockPersistence)
	persistence.On("SaveInstance", mock.Anything, mock.Anything).Return(nil)
	mgr := New(persistence)

	sll := 10.0
	def := fat.ChannelPointDefinition{
		ID: uuid.New(), Tag: "1_AI001", ModuleType: fat.ModuleAI,
		SLL: &fat.AlarmSetpoint{Value: &sll},
	}
	instance := newInstance(def.ID)

	require.NoError(t, mgr.Initialize(context.Background(), instance, def))

	assert.Equal(t, fat.SubTestNotTested, instance.SubTestResults[fat.SubTestLowLowAlarm].Status)
	assert.Equal(t, fat.SubTestSkipped, instance.SubTestResults[fat.SubTestLowAlarm].Status)
	assert.Equal(t, "SL set value empty", instance.SubTestResults[fat.SubTestLowAlarm].Details)
}

func TestApplyRawOutcome_HardPointPassWithPendingStateDisplayStaysHardPointTestCompleted(t *testing.T) {
	persistence := new(mockPersistence)
	persistence.On("SaveInstance", mock.Anything, mock.Anything).Return(nil)
	mgr := New(persistence)

	def := fat.ChannelPointDefinition{ID: uuid.New(), ModuleType: fat.ModuleDI}
	instance := newInstance(def.ID)
	require.NoError(t, mgr.Initialize(context.Background(), instance, def))

	err := mgr.ApplyRawOutcome(context.Background(), instance.InstanceID, outcomeFor(instance.InstanceID, fat.SubTestHardPoint, true))
	require.NoError(t, err)

	updated, err := mgr.GetInstance(context.Background(), instance.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, fat.StatusHardPointTestCompleted, updated.OverallStatus)
}

func TestApplyRawOutcome_AllSeededTestsPassedReachesTestCompletedPassed(t *testing.T) {
	persistence := new(mockPersistence)
	persistence.On("SaveInstance", mock.Anything, mock.Anything).Return(nil)
	mgr := New(persistence)

	def := fat.ChannelPointDefinition{ID: uuid.New(), ModuleType: fat.ModuleDI}
	instance := newInstance(def.ID)
	require.NoError(t, mgr.Initialize(context.Background(), instance, def))

	require.NoError(t, mgr.ApplyRawOutcome(context.Background(), instance.InstanceID, outcomeFor(instance.InstanceID, fat.SubTestHardPoint, true)))
	require.NoError(t, mgr.ApplyRawOutcome(context.Background(), instance.InstanceID, outcomeFor(instance.InstanceID, fat.SubTestStateDisplay, true)))

	updated, err := mgr.GetInstance(context.Background(), instance.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, fat.StatusTestCompletedPassed, updated.OverallStatus)
	assert.Nil(t, updated.ErrorMessage)
	require.NotNil(t, updated.FinalTestTime)
}

func TestApplyRawOutcome_HardPointPassWithManualPendingStaysHardPointTestCompleted(t *testing.T) {
	persistence := new(mockPersistence)
	persistence.On("SaveInstance", mock.Anything, mock.Anything).Return(nil)
	mgr := New(persistence)

	def := fat.ChannelPointDefinition{ID: uuid.New(), ModuleType: fat.ModuleAI}
	instance := newInstance(def.ID)
	require.NoError(t, mgr.Initialize(context.Background(), instance, def))

	err := mgr.ApplyRawOutcome(context.Background(), instance.InstanceID, outcomeFor(instance.InstanceID, fat.SubTestHardPoint, true))
	require.NoError(t, err)

	updated, err := mgr.GetInstance(context.Background(), instance.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, fat.StatusHardPointTestCompleted, updated.OverallStatus)
}

func TestApplyRawOutcome_AnyFailureSetsTestCompletedFailedAndErrorMessage(t *testing.T) {
	persistence := new(mockPersistence)
	persistence.On("SaveInstance", mock.Anything, mock.Anything).Return(nil)
	mgr := New(persistence)

	def := fat.ChannelPointDefinition{ID: uuid.New(), ModuleType: fat.ModuleDI}
	instance := newInstance(def.ID)
	require.NoError(t, mgr.Initialize(context.Background(), instance, def))

	err := mgr.ApplyRawOutcome(context.Background(), instance.InstanceID, outcomeFor(instance.InstanceID, fat.SubTestHardPoint, false))
	require.NoError(t, err)

	updated, err := mgr.GetInstance(context.Background(), instance.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, fat.StatusTestCompletedFailed, updated.OverallStatus)
	require.NotNil(t, updated.ErrorMessage)
	assert.Contains(t, *updated.ErrorMessage, string(fat.SubTestHardPoint))
}

func TestApplyRawOutcome_RejectsSkippedInstance(t *testing.T) {
	persistence := new(mockPersistence)
	persistence.On("SaveInstance", mock.Anything, mock.Anything).Return(nil)
	mgr := New(persistence)

	def := fat.ChannelPointDefinition{ID: uuid.New(), ModuleType: fat.ModuleDI}
	instance := newInstance(def.ID)
	require.NoError(t, mgr.Initialize(context.Background(), instance, def))
	require.NoError(t, mgr.MarkAsSkipped(context.Background(), instance.InstanceID))

	err := mgr.ApplyRawOutcome(context.Background(), instance.InstanceID, outcomeFor(instance.InstanceID, fat.SubTestHardPoint, true))

	require.Error(t, err)
	assert.True(t, fat.IsStateTransitionError(err))
}

func TestApplyRawOutcome_RejectsTerminalInstanceWithoutReset(t *testing.T) {
	persistence := new(mockPersistence)
	persistence.On("SaveInstance", mock.Anything, mock.Anything).Return(nil)
	mgr := New(persistence)

	def := fat.ChannelPointDefinition{ID: uuid.New(), ModuleType: fat.ModuleDI}
	instance := newInstance(def.ID)
	require.NoError(t, mgr.Initialize(context.Background(), instance, def))
	require.NoError(t, mgr.ApplyRawOutcome(context.Background(), instance.InstanceID, outcomeFor(instance.InstanceID, fat.SubTestHardPoint, false)))

	err := mgr.ApplyRawOutcome(context.Background(), instance.InstanceID, outcomeFor(instance.InstanceID, fat.SubTestStateDisplay, true))

	require.Error(t, err)
	assert.True(t, fat.IsStateTransitionError(err))
}

func TestResetForRetest_IncrementsRetriesAndReopensForTesting(t *testing.T) {
	persistence := new(mockPersistence)
	persistence.On("SaveInstance", mock.Anything, mock.Anything).Return(nil)
	mgr := New(persistence)

	def := fat.ChannelPointDefinition{ID: uuid.New(), ModuleType: fat.ModuleDI}
	instance := newInstance(def.ID)
	require.NoError(t, mgr.Initialize(context.Background(), instance, def))
	require.NoError(t, mgr.ApplyRawOutcome(context.Background(), instance.InstanceID, outcomeFor(instance.InstanceID, fat.SubTestHardPoint, false)))

	require.NoError(t, mgr.ResetForRetest(context.Background(), instance.InstanceID))

	updated, err := mgr.GetInstance(context.Background(), instance.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, fat.StatusNotTested, updated.OverallStatus)
	assert.Equal(t, 1, updated.RetriesCount)
	assert.Nil(t, updated.ErrorMessage)
	assert.Equal(t, fat.SubTestNotTested, updated.SubTestResults[fat.SubTestHardPoint].Status)

	err = mgr.ApplyRawOutcome(context.Background(), instance.InstanceID, outcomeFor(instance.InstanceID, fat.SubTestHardPoint, true))
	assert.NoError(t, err)
}

func TestResetForReallocation_DoesNotIncrementRetries(t *testing.T) {
	persistence := new(mockPersistence)
	persistence.On("SaveInstance", mock.Anything, mock.Anything).Return(nil)
	mgr := New(persistence)

	def := fat.ChannelPointDefinition{ID: uuid.New(), ModuleType: fat.ModuleDI}
	instance := newInstance(def.ID)
	require.NoError(t, mgr.Initialize(context.Background(), instance, def))

	require.NoError(t, mgr.ResetForReallocation(context.Background(), instance.InstanceID))

	updated, err := mgr.GetInstance(context.Background(), instance.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.RetriesCount)
}

func TestBeginHardPointTest_StampsStartTimeOnce(t *testing.T) {
	persistence := new(mockPersistence)
	persistence.On("SaveInstance", mock.Anything, mock.Anything).Return(nil)
	mgr := New(persistence)

	def := fat.ChannelPointDefinition{ID: uuid.New(), ModuleType: fat.ModuleDI}
	instance := newInstance(def.ID)
	require.NoError(t, mgr.Initialize(context.Background(), instance, def))

	require.NoError(t, mgr.BeginHardPointTest(context.Background(), instance.InstanceID))
	first, err := mgr.GetInstance(context.Background(), instance.InstanceID)
	require.NoError(t, err)
	require.NotNil(t, first.StartTime)
	firstStart := *first.StartTime

	require.NoError(t, mgr.BeginHardPointTest(context.Background(), instance.InstanceID))
	second, err := mgr.GetInstance(context.Background(), instance.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, firstStart, *second.StartTime)
}

func TestBeginManualSubTest_RejectsUnseededItem(t *testing.T) {
	persistence := new(mockPersistence)
	persistence.On("SaveInstance", mock.Anything, mock.Anything).Return(nil)
	mgr := New(persistence)

	def := fat.ChannelPointDefinition{ID: uuid.New(), ModuleType: fat.ModuleDI}
	instance := newInstance(def.ID)
	require.NoError(t, mgr.Initialize(context.Background(), instance, def))

	err := mgr.BeginManualSubTest(context.Background(), instance.InstanceID, fat.SubTestLowLowAlarm)

	require.Error(t, err)
	assert.True(t, fat.IsValidationError(err))
}

func TestGetInstance_FallsBackToPersistenceOnCacheMiss(t *testing.T) {
	persistence := new(mockPersistence)
	mgr := New(persistence)

	stored := newInstance(uuid.New())
	persistence.On("LoadInstanceByID", mock.Anything, stored.InstanceID).Return(stored, nil)

	got, err := mgr.GetInstance(context.Background(), stored.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, stored.InstanceID, got.InstanceID)

	persistence.AssertExpectations(t)
}

func TestGetInstance_NotFoundReturnsDomainError(t *testing.T) {
	persistence := new(mockPersistence)
	mgr := New(persistence)

	missing := uuid.New()
	persistence.On("LoadInstanceByID", mock.Anything, missing).Return(nil, nil)

	_, err := mgr.GetInstance(context.Background(), missing)

	require.Error(t, err)
	assert.True(t, fat.IsNotFoundError(err))
}
