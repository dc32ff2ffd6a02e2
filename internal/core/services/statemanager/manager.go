// Package statemanager implements the Channel State Manager: the
// sole authority that mutates a ChannelTestInstance's overall_status,
// sub_test_results and reading arrays. Two read/write-locked caches sit in
// front of the persistence layer with read-through on miss and
// write-through on every mutation.
package statemanager

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"brokle/internal/core/domain/fat"
)

// Manager is the Channel State Manager. All exported methods acquire the
// relevant cache lock only to read or write the map itself; persistence
// calls happen with no lock held.
type Manager struct {
	persistence fat.PersistenceService

	definitionsMu sync.RWMutex
	definitions   map[uuid.UUID]fat.ChannelPointDefinition

	instancesMu sync.RWMutex
	instances   map[uuid.UUID]fat.ChannelTestInstance
}

func New(persistence fat.PersistenceService) *Manager {
	return &Manager{
		persistence: persistence,
		definitions: make(map[uuid.UUID]fat.ChannelPointDefinition),
		instances:   make(map[uuid.UUID]fat.ChannelTestInstance),
	}
}

// CacheDefinition seeds the definitions cache, used by the coordination
// service after a fresh allocation so apply_raw_outcome's reseed path never
// has to round-trip to the store for points it just allocated.
func (m *Manager) CacheDefinition(def fat.ChannelPointDefinition) {
	m.definitionsMu.Lock()
	m.definitions[def.ID] = def
	m.definitionsMu.Unlock()
}

// GetInstance returns the current state of instanceID, from cache or the
// persistence layer.
func (m *Manager) GetInstance(ctx context.Context, instanceID uuid.UUID) (fat.ChannelTestInstance, error) {
	return m.loadInstance(ctx, instanceID)
}

// GetDefinition returns the definition for definitionID from cache or the
// persistence layer, caching it on a store hit.
func (m *Manager) GetDefinition(ctx context.Context, definitionID uuid.UUID) (fat.ChannelPointDefinition, bool) {
	return m.lookupDefinition(ctx, definitionID)
}

// AllCachedInstances returns a snapshot of every instance currently held in
// memory, without a store round-trip.
func (m *Manager) AllCachedInstances() []fat.ChannelTestInstance {
	m.instancesMu.RLock()
	defer m.instancesMu.RUnlock()
	out := make([]fat.ChannelTestInstance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	return out
}

// ClearCaches drops both in-memory caches.
func (m *Manager) ClearCaches() {
	m.definitionsMu.Lock()
	m.definitions = make(map[uuid.UUID]fat.ChannelPointDefinition)
	m.definitionsMu.Unlock()

	m.instancesMu.Lock()
	m.instances = make(map[uuid.UUID]fat.ChannelTestInstance)
	m.instancesMu.Unlock()
}

// Initialize seeds instance.SubTestResults per def's module type and applies
// the reserved-tag and alarm-set-point skip rules, then persists the
// instance and installs it in the cache. Callers (the Allocation Engine's
// caller) pass in a bare instance whose SubTestResults map is still empty.
func (m *Manager) Initialize(ctx context.Context, instance *fat.ChannelTestInstance, def fat.ChannelPointDefinition) error {
	instance.SubTestResults = initializeSubTestResults(def.ModuleType)

	switch {
	case strings.Contains(strings.ToUpper(def.Tag), "YLDW"):
		skipAllExcept(instance, "reserved point", fat.SubTestHardPoint, fat.SubTestStateDisplay)
	case def.ModuleType == fat.ModuleAI:
		applyAlarmSkipRules(instance, def)
	}

	instance.OverallStatus = fat.StatusNotTested

	m.storeInstance(*instance)
	return m.persistence.SaveInstance(ctx, instance)
}

// ApplyRawOutcome is the sole path by which a test result reaches an
// instance.
func (m *Manager) ApplyRawOutcome(ctx context.Context, instanceID uuid.UUID, outcome fat.RawTestOutcome) error {
	instance, err := m.loadInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	if instance.OverallStatus == fat.StatusSkipped {
		return fat.NewStateTransitionError("cannot apply a test outcome to a skipped instance").
			WithDetail("instance_id", instanceID)
	}
	if instance.OverallStatus.IsTerminal() {
		return fat.NewStateTransitionError("cannot apply a test outcome to a completed instance without a reset").
			WithDetail("instance_id", instanceID)
	}

	if len(instance.SubTestResults) == 0 {
		if def, ok := m.lookupDefinition(ctx, instance.DefinitionID); ok {
			instance.SubTestResults = initializeSubTestResults(def.ModuleType)
		} else {
			instance.SubTestResults = map[fat.SubTestItem]fat.SubTestExecutionResult{
				outcome.SubTestItem: {Status: fat.SubTestNotTested},
			}
		}
	}

	result, ok := instance.SubTestResults[outcome.SubTestItem]
	if !ok {
		result = fat.SubTestExecutionResult{Status: fat.SubTestNotTested}
	}

	if outcome.Success {
		result.Status = fat.SubTestPassed
	} else {
		result.Status = fat.SubTestFailed
	}
	endTime := outcome.EndTime
	result.Timestamp = &endTime
	result.ActualValue = outcome.RawValueRead
	result.ExpectedValue = outcome.EngValueCalculated
	result.Details = outcome.Message
	instance.SubTestResults[outcome.SubTestItem] = result

	if outcome.SubTestItem == fat.SubTestHardPoint {
		if len(outcome.Readings) > 0 {
			instance.HardPointReadings = outcome.Readings
			applyPercentScalars(&instance, outcome)
		}
		if len(outcome.DigitalSteps) > 0 {
			instance.DigitalTestSteps = outcome.DigitalSteps
		}
	}

	evaluateOverallStatus(&instance)

	m.storeInstance(instance)
	return m.persistence.SaveInstance(ctx, &instance)
}

// MarkAsSkipped sets overall_status to Skipped with no sub-test rewrites.
func (m *Manager) MarkAsSkipped(ctx context.Context, instanceID uuid.UUID) error {
	instance, err := m.loadInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	instance.OverallStatus = fat.StatusSkipped
	m.storeInstance(instance)
	return m.persistence.SaveInstance(ctx, &instance)
}

// PrepareForWiringConfirmation sets overall_status to the supplemental
// WiringConfirmationRequired state ahead of a hard-point sweep.
func (m *Manager) PrepareForWiringConfirmation(ctx context.Context, instanceID uuid.UUID) error {
	instance, err := m.loadInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	instance.OverallStatus = fat.StatusWiringConfirmationRequired
	m.storeInstance(instance)
	return m.persistence.SaveInstance(ctx, &instance)
}

// BeginHardPointTest transitions to HardPointTesting and stamps start_time
// on first entry. Never legal on a terminal instance without a prior reset.
func (m *Manager) BeginHardPointTest(ctx context.Context, instanceID uuid.UUID) error {
	instance, err := m.loadInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if instance.OverallStatus.IsTerminal() {
		return fat.NewStateTransitionError("cannot begin a hard-point test on a completed instance without a reset").
			WithDetail("instance_id", instanceID)
	}

	instance.OverallStatus = fat.StatusHardPointTesting
	if instance.StartTime == nil {
		now := time.Now()
		instance.StartTime = &now
	}

	m.storeInstance(instance)
	return m.persistence.SaveInstance(ctx, &instance)
}

// BeginManualSubTest transitions to ManualTestInProgress and resets item so
// it is ready to receive the next outcome.
func (m *Manager) BeginManualSubTest(ctx context.Context, instanceID uuid.UUID, item fat.SubTestItem) error {
	instance, err := m.loadInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	result, ok := instance.SubTestResults[item]
	if !ok {
		return fat.NewValidationError("sub-test item is not seeded on this instance").
			WithDetail("sub_test_item", item)
	}

	instance.OverallStatus = fat.StatusManualTestInProgress
	result.Status = fat.SubTestNotTested
	instance.SubTestResults[item] = result

	m.storeInstance(instance)
	return m.persistence.SaveInstance(ctx, &instance)
}

// ResetForRetest resets every non-NotApplicable sub-test and overall status,
// incrementing retries_count.
func (m *Manager) ResetForRetest(ctx context.Context, instanceID uuid.UUID) error {
	return m.reset(ctx, instanceID, true)
}

// ResetForReallocation performs the same reset as ResetForRetest but does
// not count as a retry.
func (m *Manager) ResetForReallocation(ctx context.Context, instanceID uuid.UUID) error {
	return m.reset(ctx, instanceID, false)
}

func (m *Manager) reset(ctx context.Context, instanceID uuid.UUID, countsAsRetry bool) error {
	instance, err := m.loadInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	for item, result := range instance.SubTestResults {
		if result.Status == fat.SubTestNotApplicable {
			continue
		}
		instance.SubTestResults[item] = fat.SubTestExecutionResult{Status: fat.SubTestNotTested}
	}

	instance.OverallStatus = fat.StatusNotTested
	instance.StartTime = nil
	instance.FinalTestTime = nil
	instance.TotalTestDurationMs = nil
	instance.ErrorMessage = nil
	if countsAsRetry {
		instance.RetriesCount++
	}

	m.storeInstance(instance)
	return m.persistence.SaveInstance(ctx, &instance)
}

func (m *Manager) loadInstance(ctx context.Context, id uuid.UUID) (fat.ChannelTestInstance, error) {
	m.instancesMu.RLock()
	inst, ok := m.instances[id]
	m.instancesMu.RUnlock()
	if ok {
		return inst, nil
	}

	loaded, err := m.persistence.LoadInstanceByID(ctx, id)
	if err != nil {
		return fat.ChannelTestInstance{}, err
	}
	if loaded == nil {
		return fat.ChannelTestInstance{}, fat.NewNotFoundError("test instance", id.String())
	}

	m.storeInstance(*loaded)
	return *loaded, nil
}

func (m *Manager) storeInstance(inst fat.ChannelTestInstance) {
	m.instancesMu.Lock()
	m.instances[inst.InstanceID] = inst
	m.instancesMu.Unlock()
}

func (m *Manager) lookupDefinition(ctx context.Context, id uuid.UUID) (fat.ChannelPointDefinition, bool) {
	m.definitionsMu.RLock()
	def, ok := m.definitions[id]
	m.definitionsMu.RUnlock()
	if ok {
		return def, true
	}

	loaded, err := m.persistence.LoadDefinitionByID(ctx, id)
	if err != nil || loaded == nil {
		return fat.ChannelPointDefinition{}, false
	}

	m.definitionsMu.Lock()
	m.definitions[id] = *loaded
	m.definitionsMu.Unlock()
	return *loaded, true
}

// subTestItemsFor is the module-type seed table.
func subTestItemsFor(mt fat.ModuleType) []fat.SubTestItem {
	switch mt {
	case fat.ModuleAI:
		return []fat.SubTestItem{
			fat.SubTestHardPoint, fat.SubTestLowLowAlarm, fat.SubTestLowAlarm,
			fat.SubTestHighAlarm, fat.SubTestHighHighAlarm, fat.SubTestMaintenance,
			fat.SubTestStateDisplay,
		}
	case fat.ModuleAO:
		return []fat.SubTestItem{fat.SubTestHardPoint, fat.SubTestMaintenance, fat.SubTestStateDisplay}
	case fat.ModuleDI, fat.ModuleDO:
		return []fat.SubTestItem{fat.SubTestHardPoint, fat.SubTestStateDisplay}
	default:
		return []fat.SubTestItem{fat.SubTestHardPoint}
	}
}

func initializeSubTestResults(mt fat.ModuleType) map[fat.SubTestItem]fat.SubTestExecutionResult {
	items := subTestItemsFor(mt)
	out := make(map[fat.SubTestItem]fat.SubTestExecutionResult, len(items))
	for _, item := range items {
		out[item] = fat.SubTestExecutionResult{Status: fat.SubTestNotTested}
	}
	return out
}

// skipAllExcept marks every seeded sub-test other than keep as Skipped with
// detail.
func skipAllExcept(instance *fat.ChannelTestInstance, detail string, keep ...fat.SubTestItem) {
	kept := make(map[fat.SubTestItem]bool, len(keep))
	for _, item := range keep {
		kept[item] = true
	}
	for item := range instance.SubTestResults {
		if kept[item] {
			continue
		}
		instance.SubTestResults[item] = fat.SubTestExecutionResult{Status: fat.SubTestSkipped, Details: detail}
	}
}

// applyAlarmSkipRules implements the "alarm set-points absent" rule: a
// missing SLL/SL/SH/SHH value skips its alarm sub-test; if all four are
// absent, Maintenance is skipped too.
func applyAlarmSkipRules(instance *fat.ChannelTestInstance, def fat.ChannelPointDefinition) {
	sllEmpty := def.SLL == nil || def.SLL.Value == nil
	slEmpty := def.SL == nil || def.SL.Value == nil
	shEmpty := def.SH == nil || def.SH.Value == nil
	shhEmpty := def.SHH == nil || def.SHH.Value == nil

	if sllEmpty && slEmpty && shEmpty && shhEmpty {
		skipAllExcept(instance, "no alarm set values", fat.SubTestHardPoint, fat.SubTestStateDisplay)
		return
	}

	rules := []struct {
		item  fat.SubTestItem
		empty bool
		label string
	}{
		{fat.SubTestLowLowAlarm, sllEmpty, "SLL set value empty"},
		{fat.SubTestLowAlarm, slEmpty, "SL set value empty"},
		{fat.SubTestHighAlarm, shEmpty, "SH set value empty"},
		{fat.SubTestHighHighAlarm, shhEmpty, "SHH set value empty"},
	}
	for _, r := range rules {
		if r.empty {
			instance.SubTestResults[r.item] = fat.SubTestExecutionResult{Status: fat.SubTestSkipped, Details: r.label}
		}
	}
}

// applyPercentScalars mirrors any percent-level scalars present on outcome
// onto instance, falling back to inferring them from the first five
// readings when none were explicitly provided.
func applyPercentScalars(instance *fat.ChannelTestInstance, outcome fat.RawTestOutcome) {
	written := false
	if outcome.Result0Percent != nil {
		instance.TestResult0Percent = outcome.Result0Percent
		written = true
	}
	if outcome.Result25Percent != nil {
		instance.TestResult25Percent = outcome.Result25Percent
		written = true
	}
	if outcome.Result50Percent != nil {
		instance.TestResult50Percent = outcome.Result50Percent
		written = true
	}
	if outcome.Result75Percent != nil {
		instance.TestResult75Percent = outcome.Result75Percent
		written = true
	}
	if outcome.Result100Percent != nil {
		instance.TestResult100Percent = outcome.Result100Percent
		written = true
	}

	if written || len(outcome.Readings) < 5 {
		return
	}

	v0 := outcome.Readings[0].ActualReadingEng
	v25 := outcome.Readings[1].ActualReadingEng
	v50 := outcome.Readings[2].ActualReadingEng
	v75 := outcome.Readings[3].ActualReadingEng
	v100 := outcome.Readings[4].ActualReadingEng
	instance.TestResult0Percent = &v0
	instance.TestResult25Percent = &v25
	instance.TestResult50Percent = &v50
	instance.TestResult75Percent = &v75
	instance.TestResult100Percent = &v100
}

// evaluateOverallStatus re-derives overall_status purely from the sub-test
// map.
func evaluateOverallStatus(instance *fat.ChannelTestInstance) {
	var anyFailed, hardPointPassed, hasManual, manualComplete bool
	manualComplete = true

	for item, result := range instance.SubTestResults {
		if result.Status == fat.SubTestFailed {
			anyFailed = true
		}
		if item == fat.SubTestHardPoint && result.Status == fat.SubTestPassed {
			hardPointPassed = true
		}
		if fat.IsManualTest(item) {
			hasManual = true
			if !result.Status.IsTerminal() {
				manualComplete = false
			}
		}
	}

	var newStatus fat.OverallStatus
	switch {
	case anyFailed:
		newStatus = fat.StatusTestCompletedFailed
	case hardPointPassed && hasManual && !manualComplete:
		newStatus = fat.StatusHardPointTestCompleted
	case hardPointPassed && (!hasManual || manualComplete):
		newStatus = fat.StatusTestCompletedPassed
	default:
		newStatus = fat.StatusNotTested
	}
	instance.OverallStatus = newStatus

	if newStatus.IsTerminal() {
		now := time.Now()
		instance.FinalTestTime = &now
		if instance.StartTime != nil {
			d := now.Sub(*instance.StartTime).Milliseconds()
			instance.TotalTestDurationMs = &d
		}
	}

	if anyFailed {
		var failed []string
		for item, result := range instance.SubTestResults {
			if result.Status == fat.SubTestFailed {
				failed = append(failed, string(item))
			}
		}
		sort.Strings(failed)
		msg := strings.Join(failed, ", ")
		instance.ErrorMessage = &msg
	} else {
		instance.ErrorMessage = nil
	}
}
