package validator

import (
	"fmt"
	"strings"
)

// Common validation rules for the FAT rig controller

// ValidateExecutionRequest validates a batch test-execution submission
// before it reaches the coordination service. batchName and tags come
// straight off the wire and pointTags names every channel point definition
// tag in submission order (used to flag duplicates).
func ValidateExecutionRequest(batchName string, pointTags []string, maxConcurrentTests *int) error {
	v := New()

	v.Required("batch_name", batchName).
		MinLength("batch_name", batchName, 2, "batch_name must be at least 2 characters").
		MaxLength("batch_name", batchName, 200, "batch_name must not exceed 200 characters")

	if len(pointTags) == 0 {
		v.errors.Add("channel_definitions", "at least one channel point definition is required")
	}

	seen := make(map[string]struct{}, len(pointTags))
	for i, tag := range pointTags {
		field := fmt.Sprintf("channel_definitions[%d].tag", i)
		if strings.TrimSpace(tag) == "" {
			v.errors.Add(field, "tag is required")
			continue
		}
		if _, dup := seen[tag]; dup {
			v.errors.Add(field, "duplicate tag within submission: "+tag)
		}
		seen[tag] = struct{}{}
	}

	if maxConcurrentTests != nil {
		v.Min("max_concurrent_tests", *maxConcurrentTests, 1, "max_concurrent_tests must be at least 1")
	}

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// ValidateManualTestSubmission validates an operator-submitted manual test
// result for one channel instance.
func ValidateManualTestSubmission(instanceID string, subTestItem string, rawValue *float64) error {
	v := New()

	v.Required("instance_id", instanceID).UUID("instance_id", instanceID, "instance_id must be a valid identifier")
	v.Required("sub_test_item", subTestItem).
		OneOf("sub_test_item", subTestItem, ValidSubTestItems, "unrecognized sub test item")

	if rawValue != nil {
		v.Custom("raw_value", *rawValue, func(val interface{}) bool {
			f := val.(float64)
			return f == f // rejects NaN
		}, "raw_value must be a finite number")
	}

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// ValidByteOrders lists the 16-bit register byte orders the PLC adapter
// understands when interpreting a 32-bit analog value across two registers.
var ValidByteOrders = []string{"ABCD", "BADC", "CDAB", "DCBA"}

// ValidModuleTypes lists the channel point module types the allocation
// engine can assign a rack/slot/channel address for.
var ValidModuleTypes = []string{"AI", "AO", "DI", "DO"}

// ValidSubTestItems lists the sub-test identifiers a channel instance's
// test plan can be composed of, matching fat.SubTestItem's wire values.
var ValidSubTestItems = []string{
	"HardPoint",
	"LowLowAlarm",
	"LowAlarm",
	"HighAlarm",
	"HighHighAlarm",
	"Maintenance",
	"MaintenanceFunction",
	"StateDisplay",
	"Output0Percent",
	"Output25Percent",
	"Output50Percent",
	"Output75Percent",
	"Output100Percent",
	"TrendCheck",
	"ReportCheck",
	"CommunicationTest",
}

// ValidateRigConfig validates an uploaded test rig PLC connection profile.
func ValidateRigConfig(ipAddress string, port int, byteOrder string) error {
	v := New()

	v.Required("ip_address", ipAddress).
		Pattern("ip_address", ipAddress, `^(\d{1,3}\.){3}\d{1,3}$`, "ip_address must be a dotted-quad IPv4 address")

	v.Min("port", port, 1, "port must be at least 1").
		Max("port", port, 65535, "port must not exceed 65535")

	if byteOrder != "" {
		v.OneOf("byte_order", byteOrder, ValidByteOrders, "unsupported byte order")
	}

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// ValidateModuleType validates a channel point definition's module type.
func ValidateModuleType(moduleType string) error {
	v := New()
	v.Required("module_type", moduleType).
		OneOf("module_type", moduleType, ValidModuleTypes, "module_type must be one of AI, AO, DI, DO")

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// ValidatePaginationParams validates page and page-size parameters.
func ValidatePaginationParams(page, pageSize int) error {
	v := New()

	v.Min("page", page, 1, "page must be at least 1")
	v.Range("page_size", pageSize, 1, 200, "page_size must be between 1 and 200")

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}
