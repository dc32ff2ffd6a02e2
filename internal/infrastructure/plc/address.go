package plc

import (
	"strconv"

	"brokle/internal/core/domain/fat"
)

// registerClass is the Modbus register table an address string selects,
// taken from its leading digit: 0 coils, 1 discrete inputs, 3 input
// registers, 4 holding registers.
type registerClass byte

const (
	classCoil             registerClass = '0'
	classDiscreteInput    registerClass = '1'
	classInputRegister    registerClass = '3'
	classHoldingRegister  registerClass = '4'
)

// parsedAddress is a decoded "40001"-style Modbus address string.
type parsedAddress struct {
	class  registerClass
	offset uint16
}

// parseAddress decodes a Modicon-style address string ("40001", "00001",
// "30005", ...): the leading digit selects the register class, the
// remainder is a 1-based offset within it. zeroBased, when true, treats the
// remainder as already 0-based and skips the -1 adjustment.
func parseAddress(addr string, zeroBased bool) (parsedAddress, error) {
	if len(addr) < 2 {
		return parsedAddress{}, fat.NewPlcError(fat.PlcAddressParseError, "address must not be empty", nil).WithDetail("address", addr)
	}

	class := registerClass(addr[0])
	switch class {
	case classCoil, classDiscreteInput, classInputRegister, classHoldingRegister:
	default:
		return parsedAddress{}, fat.NewPlcError(fat.PlcAddressParseError, "unsupported address class prefix", nil).WithDetail("address", addr)
	}

	offset, err := strconv.ParseUint(addr[1:], 10, 16)
	if err != nil {
		return parsedAddress{}, fat.NewPlcError(fat.PlcAddressParseError, "invalid address offset", err).WithDetail("address", addr)
	}
	if offset == 0 && !zeroBased {
		return parsedAddress{}, fat.NewPlcError(fat.PlcAddressParseError, "address offset must start at 1", nil).WithDetail("address", addr)
	}

	final := uint16(offset)
	if !zeroBased {
		final--
	}
	return parsedAddress{class: class, offset: final}, nil
}
