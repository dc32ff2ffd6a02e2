package fat

import "context"

// ByteOrder selects how two consecutive 16-bit Modbus registers combine into
// a 32-bit float, mnemonic named after the wire byte order.
type ByteOrder string

const (
	ByteOrderABCD ByteOrder = "ABCD"
	ByteOrderBADC ByteOrder = "BADC"
	ByteOrderCDAB ByteOrder = "CDAB"
	ByteOrderDCBA ByteOrder = "DCBA"
)

// DefaultByteOrder matches the original implementation's ByteOrder::default().
const DefaultByteOrder = ByteOrderABCD

// PlcConnectionConfig describes one Test Rig PLC endpoint.
type PlcConnectionConfig struct {
	IPAddress          string
	Port               uint16
	SlaveID            byte
	ByteOrder          ByteOrder
	ZeroBasedAddress   bool
	ConnectTimeoutMs   uint32
	ReadTimeoutMs      uint32
	WriteTimeoutMs     uint32
}

// PlcErrorKind enumerates the failure kinds a PlcAdapter may surface.
type PlcErrorKind string

const (
	PlcConnectionRefused   PlcErrorKind = "ConnectionRefused"
	PlcTimeout             PlcErrorKind = "Timeout"
	PlcProtocolException   PlcErrorKind = "ProtocolException"
	PlcAddressParseError   PlcErrorKind = "AddressParseError"
	PlcWrongRegisterClass  PlcErrorKind = "WrongRegisterClass"
)

// PlcAdapter is the minimum required typed read/write surface over a
// Modbus-TCP peer, plus connection lifecycle.
type PlcAdapter interface {
	Connect(ctx context.Context, cfg PlcConnectionConfig) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	ReadBool(ctx context.Context, addr string) (bool, error)
	WriteBool(ctx context.Context, addr string, value bool) error

	ReadFloat32(ctx context.Context, addr string) (float32, error)
	WriteFloat32(ctx context.Context, addr string, value float32) error

	ReadInt16(ctx context.Context, addr string) (int16, error)
	WriteInt16(ctx context.Context, addr string, value int16) error
	ReadUint16(ctx context.Context, addr string) (uint16, error)
	WriteUint16(ctx context.Context, addr string, value uint16) error
}
