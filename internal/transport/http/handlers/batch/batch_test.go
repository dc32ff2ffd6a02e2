package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"brokle/internal/core/domain/fat"
	"brokle/internal/core/services/coordination"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockStateManager struct{ mock.Mock }

func (m *mockStateManager) CacheDefinition(def fat.ChannelPointDefinition) { m.Called(def) }
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

type mockEngine struct{ mock.Mock }

func (m *mockEngine) SubmitTestInstance(ctx context.Context, instance fat.ChannelTestInstance, def fat.ChannelPointDefinition, results chan<- fat.RawTestOutcome) (string, error) {
	args := m.Called(ctx, instance, def, results)
	return args.String(0), args.Error(1)
}
func (m *mockEngine) CancelTask(taskID string) error {
	args := m.Called(taskID)
	return args.Error(0)
}

type mockPersistence struct{ mock.Mock }

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

type mockEvents struct{ mock.Mock }

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

type mockRigConfig struct{ mock.Mock }

func (m *mockRigConfig) GetTestRigConfig(ctx context.Context) (fat.TestRigConfig, error) {
	args := m.Called(ctx)
	return args.Get(0).(fat.TestRigConfig), args.Error(1)
}

func newTestHandler() (*Handler, *mockStateManager, *mockEngine, *mockPersistence, *mockEvents, *mockRigConfig) {
	sm := new(mockStateManager)
	eng := new(mockEngine)
	persistence := new(mockPersistence)
	events := new(mockEvents)
	rig := new(mockRigConfig)
	svc := coordination.New(sm, eng, persistence, events, rig, testLogger())
	return NewHandler(svc), sm, eng, persistence, events, rig
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCreate_RejectsEmptyBody(t *testing.T) {
	h, _, _, _, _, _ := newTestHandler()
	router := gin.New()
	router.POST("/batches", h.Create)

	req := httptest.NewRequest(http.MethodPost, "/batches", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreate_SubmitsBatchAndReturnsCreated(t *testing.T) {
	h, sm, _, persistence, _, rig := newTestHandler()
	router := gin.New()
	router.POST("/batches", h.Create)

	persistence.On("SaveBatch", mock.Anything, mock.Anything).Return(nil)
	rig.On("GetTestRigConfig", mock.Anything).Return(fat.TestRigConfig{}, assert.AnError)
	sm.On("CacheDefinition", mock.Anything).Return()
	sm.On("Initialize", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	body := createRequest{
		BatchName: "Batch 1",
		ChannelDefinitions: []fat.ChannelPointDefinition{
			{Tag: "1_AI001", ModuleType: fat.ModuleAI},
		},
	}
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/batches", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp coordination.ExecutionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.InstanceCount)
}

func TestStart_RejectsInvalidBatchID(t *testing.T) {
	h, _, _, _, _, _ := newTestHandler()
	router := gin.New()
	router.POST("/batches/:id/start", h.Start)

	req := httptest.NewRequest(http.MethodPost, "/batches/not-a-uuid/start", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStart_UnknownBatchReturnsNotFound(t *testing.T) {
	h, _, _, _, _, _ := newTestHandler()
	router := gin.New()
	router.POST("/batches/:id/start", h.Start)

	req := httptest.NewRequest(http.MethodPost, "/batches/"+uuid.New().String()+"/start", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgress_UnknownBatchReturnsNotFound(t *testing.T) {
	h, _, _, _, _, _ := newTestHandler()
	router := gin.New()
	router.GET("/batches/:id/progress", h.Progress)

	req := httptest.NewRequest(http.MethodGet, "/batches/"+uuid.New().String()+"/progress", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
