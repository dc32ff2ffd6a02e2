// Package fat holds the domain entities, repository interfaces and adapter
// contracts for the Factory Acceptance Testing core: channel point
// definitions, test-rig configuration, channel test instances, test batches
// and raw test outcomes.
package fat

import (
	"time"

	"github.com/google/uuid"
)

// ModuleType classifies a DUT channel point.
type ModuleType string

const (
	ModuleAI            ModuleType = "AI"
	ModuleAO            ModuleType = "AO"
	ModuleDI            ModuleType = "DI"
	ModuleDO            ModuleType = "DO"
	ModuleAINone        ModuleType = "AINone"
	ModuleAONone        ModuleType = "AONone"
	ModuleDINone        ModuleType = "DINone"
	ModuleDONone        ModuleType = "DONone"
	ModuleCommunication ModuleType = "Communication"
	ModuleOther         ModuleType = "Other"
)

// IsAnalog reports whether the module type carries an engineering range
// (AI/AO) as opposed to a pure digital state (DI/DO).
func (m ModuleType) IsAnalog() bool {
	return m == ModuleAI || m == ModuleAO
}

// SubTestItem enumerates the per-instance checks a ChannelTestInstance may carry.
type SubTestItem string

const (
	SubTestHardPoint            SubTestItem = "HardPoint"
	SubTestLowLowAlarm          SubTestItem = "LowLowAlarm"
	SubTestLowAlarm             SubTestItem = "LowAlarm"
	SubTestHighAlarm            SubTestItem = "HighAlarm"
	SubTestHighHighAlarm        SubTestItem = "HighHighAlarm"
	SubTestMaintenance          SubTestItem = "Maintenance"
	SubTestMaintenanceFunction  SubTestItem = "MaintenanceFunction"
	SubTestStateDisplay         SubTestItem = "StateDisplay"
	SubTestOutput0Percent       SubTestItem = "Output0Percent"
	SubTestOutput25Percent      SubTestItem = "Output25Percent"
	SubTestOutput50Percent      SubTestItem = "Output50Percent"
	SubTestOutput75Percent      SubTestItem = "Output75Percent"
	SubTestOutput100Percent     SubTestItem = "Output100Percent"
	SubTestTrendCheck           SubTestItem = "TrendCheck"
	SubTestReportCheck          SubTestItem = "ReportCheck"
	SubTestCommunicationTest    SubTestItem = "CommunicationTest"
)

// manualSubTests is the set of sub-tests that require a human operator to
// drive them rather than being derived purely from a hard-point sweep.
var manualSubTests = map[SubTestItem]bool{
	SubTestMaintenance:         true,
	SubTestMaintenanceFunction: true,
	SubTestStateDisplay:        true,
	SubTestLowLowAlarm:         true,
	SubTestLowAlarm:            true,
	SubTestHighAlarm:           true,
	SubTestHighHighAlarm:       true,
}

// IsManualTest reports whether item belongs to the manual-test set used by
// the overall-status decision tree.
func IsManualTest(item SubTestItem) bool { return manualSubTests[item] }

// IsRequiredTest reports whether item is the mandatory hard-point check.
func IsRequiredTest(item SubTestItem) bool { return item == SubTestHardPoint }

// SubTestStatus is the lifecycle state of a single sub-test check.
type SubTestStatus string

const (
	SubTestNotTested     SubTestStatus = "NotTested"
	SubTestTesting       SubTestStatus = "Testing"
	SubTestPassed        SubTestStatus = "Passed"
	SubTestFailed         SubTestStatus = "Failed"
	SubTestSkipped        SubTestStatus = "Skipped"
	SubTestNotApplicable SubTestStatus = "NotApplicable"

)

// IsTerminal reports whether s requires no further action.
func (s SubTestStatus) IsTerminal() bool {
	switch s {
	case SubTestPassed, SubTestFailed, SubTestSkipped, SubTestNotApplicable:
		return true
	default:
		return false
	}
}

// OverallStatus is the aggregated lifecycle state of a ChannelTestInstance.
//
// WiringConfirmationRequired is a supplemental state (not present in the
// source's published state diagram table but present in its state-manager
// implementation) sitting between NotTested and HardPointTesting: the rig
// operator must confirm physical wiring before the hard-point sweep starts.
type OverallStatus string

const (
	StatusNotTested                  OverallStatus = "NotTested"
	StatusWiringConfirmationRequired OverallStatus = "WiringConfirmationRequired"
	StatusHardPointTesting           OverallStatus = "HardPointTesting"
	StatusHardPointTestCompleted     OverallStatus = "HardPointTestCompleted"
	StatusManualTestInProgress       OverallStatus = "ManualTestInProgress"
	StatusTestCompletedPassed        OverallStatus = "TestCompletedPassed"
	StatusTestCompletedFailed        OverallStatus = "TestCompletedFailed"
	StatusSkipped                    OverallStatus = "Skipped"
)

// IsTerminal reports whether s is a terminal overall status per invariant I3.
func (s OverallStatus) IsTerminal() bool {
	return s == StatusTestCompletedPassed || s == StatusTestCompletedFailed
}

// AlarmSetpoint is one configured alarm triple on an AI definition: the
// engineering value, the PLC address the value is written to, and the
// address the alarm feedback is read from. A nil Value means the alarm is
// not configured for this point and its sub-test is skipped at init.
type AlarmSetpoint struct {
	Value            *float64 `json:"value,omitempty" gorm:"column:value"`
	SetpointAddress  string   `json:"setpoint_address,omitempty" gorm:"column:setpoint_address"`
	FeedbackAddress  string   `json:"feedback_address,omitempty" gorm:"column:feedback_address"`
}

// ChannelPointDefinition is the immutable description of one DUT point,
// imported from a spreadsheet by a collaborator outside this module.
type ChannelPointDefinition struct {
	ID              uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Tag             string     `json:"tag" gorm:"column:tag;index"`
	VariableName    string     `json:"variable_name" gorm:"column:variable_name"`
	VariableDescription string `json:"variable_description,omitempty" gorm:"column:variable_description"`
	StationName     string     `json:"station_name,omitempty" gorm:"column:station_name"`

	ModuleType      ModuleType `json:"module_type" gorm:"column:module_type"`
	PowerSupplyType string     `json:"power_supply_type,omitempty" gorm:"column:power_supply_type"`
	ModuleName      string     `json:"module_name,omitempty" gorm:"column:module_name"`

	RangeLowLimit  *float64 `json:"range_low_limit,omitempty" gorm:"column:range_low_limit"`
	RangeHighLimit *float64 `json:"range_high_limit,omitempty" gorm:"column:range_high_limit"`

	SLL *AlarmSetpoint `json:"sll,omitempty" gorm:"embedded;embeddedPrefix:sll_"`
	SL  *AlarmSetpoint `json:"sl,omitempty" gorm:"embedded;embeddedPrefix:sl_"`
	SH  *AlarmSetpoint `json:"sh,omitempty" gorm:"embedded;embeddedPrefix:sh_"`
	SHH *AlarmSetpoint `json:"shh,omitempty" gorm:"embedded;embeddedPrefix:shh_"`

	MaintenanceValueAddress  string `json:"maintenance_value_address,omitempty" gorm:"column:maintenance_value_address"`
	MaintenanceEnableAddress string `json:"maintenance_enable_address,omitempty" gorm:"column:maintenance_enable_address"`

	SequenceNumber *int       `json:"sequence_number,omitempty" gorm:"column:sequence_number"`
	BatchID        *uuid.UUID `json:"batch_id,omitempty" gorm:"type:uuid;column:batch_id;index"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// TableName pins the GORM table name regardless of struct renames.
func (ChannelPointDefinition) TableName() string { return "channel_point_definitions" }

// ChannelPointRigEntry ("ComparisonTable" in the original) is one usable
// channel on the Test Rig PLC.
type ChannelPointRigEntry struct {
	ChannelAddress        string     `json:"channel_address"`
	CommunicationAddress  string     `json:"communication_address"`
	ChannelType           ModuleType `json:"channel_type"`
	IsPowered             bool       `json:"is_powered"`
}

// TestRigConfig describes the PLC used to drive/sense the DUT during testing.
type TestRigConfig struct {
	BrandType string                 `json:"brand_type"`
	IPAddress string                 `json:"ip_address"`
	Entries   []ChannelPointRigEntry `json:"entries"`
}

// SubTestExecutionResult is the recorded outcome of one sub-test check
// inside a ChannelTestInstance's sub_test_results map.
type SubTestExecutionResult struct {
	Status        SubTestStatus `json:"status"`
	Timestamp     *time.Time    `json:"timestamp,omitempty"`
	ExpectedValue *float64      `json:"expected_value,omitempty"`
	ActualValue   *float64      `json:"actual_value,omitempty"`
	Details       string        `json:"details,omitempty"`
}

// HardPointReading is one percentage point captured during an AI/AO
// hard-point sweep.
type HardPointReading struct {
	Percent        float64 `json:"percent"`
	ExpectedEng    float64 `json:"expected_eng"`
	ActualReadingEng float64 `json:"actual_reading_eng"`
}

// DigitalTestStep is one drive/read pair captured during a DI/DO test.
type DigitalTestStep struct {
	Step     int   `json:"step"`
	Expected bool  `json:"expected"`
	Actual   bool  `json:"actual"`
	Passed   bool  `json:"passed"`
}

// ChannelTestInstance is the runtime state of testing one definition inside
// one batch. It is the Channel State Manager's sole mutable aggregate.
type ChannelTestInstance struct {
	InstanceID    uuid.UUID `json:"instance_id" gorm:"type:uuid;primaryKey"`
	DefinitionID  uuid.UUID `json:"definition_id" gorm:"type:uuid;column:definition_id;index"`
	TestBatchID   uuid.UUID `json:"test_batch_id" gorm:"type:uuid;column:test_batch_id;index"`
	TestBatchName string    `json:"test_batch_name" gorm:"column:test_batch_name"`

	TestPlcChannelTag           string `json:"test_plc_channel_tag,omitempty" gorm:"column:test_plc_channel_tag"`
	TestPlcCommunicationAddress string `json:"test_plc_communication_address,omitempty" gorm:"column:test_plc_communication_address"`

	CreationTime        time.Time  `json:"creation_time" gorm:"column:creation_time"`
	StartTime           *time.Time `json:"start_time,omitempty" gorm:"column:start_time"`
	LastUpdatedTime      time.Time `json:"last_updated_time" gorm:"column:last_updated_time"`
	FinalTestTime        *time.Time `json:"final_test_time,omitempty" gorm:"column:final_test_time"`
	TotalTestDurationMs *int64     `json:"total_test_duration_ms,omitempty" gorm:"column:total_test_duration_ms"`

	OverallStatus       OverallStatus `json:"overall_status" gorm:"column:overall_status;index"`
	CurrentStepDetails  string        `json:"current_step_details,omitempty" gorm:"column:current_step_details"`
	ErrorMessage        *string       `json:"error_message,omitempty" gorm:"column:error_message"`

	SubTestResults map[SubTestItem]SubTestExecutionResult `json:"sub_test_results" gorm:"serializer:json;column:sub_test_results"`

	HardPointReadings []HardPointReading `json:"hardpoint_readings,omitempty" gorm:"serializer:json;column:hardpoint_readings"`
	DigitalTestSteps  []DigitalTestStep  `json:"digital_test_steps,omitempty" gorm:"serializer:json;column:digital_test_steps"`

	TestResult0Percent   *float64 `json:"test_result_0_percent,omitempty" gorm:"column:test_result_0_percent"`
	TestResult25Percent  *float64 `json:"test_result_25_percent,omitempty" gorm:"column:test_result_25_percent"`
	TestResult50Percent  *float64 `json:"test_result_50_percent,omitempty" gorm:"column:test_result_50_percent"`
	TestResult75Percent  *float64 `json:"test_result_75_percent,omitempty" gorm:"column:test_result_75_percent"`
	TestResult100Percent *float64 `json:"test_result_100_percent,omitempty" gorm:"column:test_result_100_percent"`

	RetriesCount int `json:"retries_count" gorm:"column:retries_count"`

	IntegrationNotes string `json:"integration_notes,omitempty" gorm:"column:integration_notes"`
	PlcNotes         string `json:"plc_notes,omitempty" gorm:"column:plc_notes"`
	HmiNotes         string `json:"hmi_notes,omitempty" gorm:"column:hmi_notes"`
}

func (ChannelTestInstance) TableName() string { return "channel_test_instances" }

// TestBatchInfo is the aggregated record of one allocation batch.
type TestBatchInfo struct {
	BatchID       uuid.UUID `json:"batch_id" gorm:"type:uuid;primaryKey"`
	BatchName     string    `json:"batch_name" gorm:"column:batch_name"`
	ProductModel  *string   `json:"product_model,omitempty" gorm:"column:product_model"`
	SerialNumber  *string   `json:"serial_number,omitempty" gorm:"column:serial_number"`
	StationName   *string   `json:"station_name,omitempty" gorm:"column:station_name"`

	TotalPoints int `json:"total_points" gorm:"column:total_points"`
	Tested      int `json:"tested" gorm:"column:tested"`
	Passed      int `json:"passed" gorm:"column:passed"`
	Failed      int `json:"failed" gorm:"column:failed"`
	Skipped     int `json:"skipped" gorm:"column:skipped"`
	InProgress  int `json:"in_progress" gorm:"column:in_progress"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`

	OverallStatus BatchExecutionStatus `json:"overall_status" gorm:"column:overall_status"`
}

func (TestBatchInfo) TableName() string { return "test_batch_infos" }

// BatchExecutionStatus is the lifecycle state of a batch inside the Test
// Coordination Service.
type BatchExecutionStatus string

const (
	BatchSubmitted BatchExecutionStatus = "Submitted"
	BatchRunning   BatchExecutionStatus = "Running"
	BatchPaused    BatchExecutionStatus = "Paused"
	BatchCompleted BatchExecutionStatus = "Completed"
	BatchStopped   BatchExecutionStatus = "Stopped"
	BatchFailed    BatchExecutionStatus = "Failed"
)

// RawTestOutcome is one immutable result event emitted by the Test Execution
// Engine and consumed by the Test Coordination Service's result collector.
type RawTestOutcome struct {
	ID                 uuid.UUID          `json:"id" gorm:"type:uuid;primaryKey"`
	ChannelInstanceID  uuid.UUID          `json:"channel_instance_id" gorm:"type:uuid;column:channel_instance_id;index"`
	SubTestItem        SubTestItem        `json:"sub_test_item" gorm:"column:sub_test_item"`
	Success            bool               `json:"success" gorm:"column:success"`
	StartTime          time.Time          `json:"start_time" gorm:"column:start_time"`
	EndTime            time.Time          `json:"end_time" gorm:"column:end_time"`
	RawValueRead       *float64           `json:"raw_value_read,omitempty" gorm:"column:raw_value_read"`
	EngValueCalculated *float64           `json:"eng_value_calculated,omitempty" gorm:"column:eng_value_calculated"`
	Message            string             `json:"message,omitempty" gorm:"column:message"`
	Readings           []HardPointReading `json:"readings,omitempty" gorm:"serializer:json;column:readings"`
	DigitalSteps       []DigitalTestStep  `json:"digital_steps,omitempty" gorm:"serializer:json;column:digital_steps"`

	Result0Percent   *float64 `json:"test_result_0_percent,omitempty" gorm:"column:test_result_0_percent"`
	Result25Percent  *float64 `json:"test_result_25_percent,omitempty" gorm:"column:test_result_25_percent"`
	Result50Percent  *float64 `json:"test_result_50_percent,omitempty" gorm:"column:test_result_50_percent"`
	Result75Percent  *float64 `json:"test_result_75_percent,omitempty" gorm:"column:test_result_75_percent"`
	Result100Percent *float64 `json:"test_result_100_percent,omitempty" gorm:"column:test_result_100_percent"`
}

func (RawTestOutcome) TableName() string { return "raw_test_outcomes" }

// AllocationSummary reports per-module-type allocation coverage.
type AllocationSummary struct {
	TotalDefinitions     int                          `json:"total_definitions"`
	AllocatedInstances    int                          `json:"allocated_instances"`
	SkippedDefinitions    int                          `json:"skipped_definitions"`
	ByModuleType          map[ModuleType]ModuleTypeStats `json:"by_module_type"`
	AllocationErrors      []string                     `json:"allocation_errors"`
}

// ModuleTypeStats is the per-module-type slice of an AllocationSummary.
type ModuleTypeStats struct {
	DefinitionCount int `json:"definition_count"`
	AllocatedCount  int `json:"allocated_count"`
	BatchCount      int `json:"batch_count"`
}

// BatchAllocationResult is the output of the Allocation Engine's Allocate
// operation.
type BatchAllocationResult struct {
	Batches           []TestBatchInfo        `json:"batches"`
	AllocatedInstances []ChannelTestInstance  `json:"allocated_instances"`
	Errors            []string               `json:"errors"`
	Summary           AllocationSummary      `json:"summary"`
}
