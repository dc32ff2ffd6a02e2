// Package plc implements fat.PlcAdapter over Modbus TCP.
package plc

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/goburrow/modbus"

	"brokle/internal/core/domain/fat"
)

// Adapter is a Modbus-TCP implementation of fat.PlcAdapter. A single Adapter
// serves one Test Rig PLC; its underlying socket is borrowed from a shared
// ConnectionManager so that other Adapters pointed at the same address reuse
// it rather than opening a second connection.
type Adapter struct {
	manager *ConnectionManager

	mu        sync.Mutex
	cfg       fat.PlcConnectionConfig
	conn      *pooledConnection
	connected bool
}

// NewAdapter builds an Adapter backed by manager. manager may be shared
// across every Adapter in the process.
func NewAdapter(manager *ConnectionManager) *Adapter {
	return &Adapter{manager: manager}
}

func (a *Adapter) Connect(ctx context.Context, cfg fat.PlcConnectionConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	conn, err := a.manager.acquire(cfg)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.conn = conn
	a.connected = true
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil
	}
	a.manager.release(a.cfg)
	a.conn = nil
	a.connected = false
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// client returns the active client and config, or a connection error if
// Connect hasn't been called.
func (a *Adapter) client() (modbus.Client, fat.PlcConnectionConfig, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fat.PlcConnectionConfig{}, fat.NewPlcError(fat.PlcConnectionRefused, "adapter is not connected", nil)
	}
	return a.conn.client, a.cfg, nil
}

func (a *Adapter) ReadBool(ctx context.Context, address string) (bool, error) {
	client, cfg, err := a.client()
	if err != nil {
		return false, err
	}
	parsed, err := parseAddress(address, cfg.ZeroBasedAddress)
	if err != nil {
		return false, err
	}

	var results []byte
	switch parsed.class {
	case classCoil:
		results, err = client.ReadCoils(parsed.offset, 1)
	case classDiscreteInput:
		results, err = client.ReadDiscreteInputs(parsed.offset, 1)
	default:
		return false, fat.NewPlcError(fat.PlcWrongRegisterClass, "address is not a boolean register", nil).WithDetail("address", address)
	}
	if err != nil {
		return false, fat.NewPlcError(fat.PlcProtocolException, "modbus read failed", err).WithDetail("address", address)
	}
	return results[0]&0x01 != 0, nil
}

func (a *Adapter) WriteBool(ctx context.Context, address string, value bool) error {
	client, cfg, err := a.client()
	if err != nil {
		return err
	}
	parsed, err := parseAddress(address, cfg.ZeroBasedAddress)
	if err != nil {
		return err
	}
	if parsed.class != classCoil {
		return fat.NewPlcError(fat.PlcWrongRegisterClass, "address is not writable as a coil", nil).WithDetail("address", address)
	}

	coilValue := uint16(0x0000)
	if value {
		coilValue = 0xFF00
	}
	if _, err := client.WriteSingleCoil(parsed.offset, coilValue); err != nil {
		return fat.NewPlcError(fat.PlcProtocolException, "modbus write failed", err).WithDetail("address", address)
	}
	return nil
}

func (a *Adapter) ReadFloat32(ctx context.Context, address string) (float32, error) {
	client, cfg, err := a.client()
	if err != nil {
		return 0, err
	}
	parsed, err := parseAddress(address, cfg.ZeroBasedAddress)
	if err != nil {
		return 0, err
	}

	var results []byte
	switch parsed.class {
	case classHoldingRegister:
		results, err = client.ReadHoldingRegisters(parsed.offset, 2)
	case classInputRegister:
		results, err = client.ReadInputRegisters(parsed.offset, 2)
	default:
		return 0, fat.NewPlcError(fat.PlcWrongRegisterClass, "address is not a float register", nil).WithDetail("address", address)
	}
	if err != nil {
		return 0, fat.NewPlcError(fat.PlcProtocolException, "modbus read failed", err).WithDetail("address", address)
	}
	if len(results) < 4 {
		return 0, fat.NewPlcError(fat.PlcProtocolException, "modbus response too short for float32", nil).WithDetail("address", address)
	}

	reg1 := binary.BigEndian.Uint16(results[0:2])
	reg2 := binary.BigEndian.Uint16(results[2:4])
	return registersToFloat32(reg1, reg2, cfg.ByteOrder), nil
}

func (a *Adapter) WriteFloat32(ctx context.Context, address string, value float32) error {
	client, cfg, err := a.client()
	if err != nil {
		return err
	}
	parsed, err := parseAddress(address, cfg.ZeroBasedAddress)
	if err != nil {
		return err
	}
	if parsed.class != classHoldingRegister {
		return fat.NewPlcError(fat.PlcWrongRegisterClass, "address is not writable as a float register", nil).WithDetail("address", address)
	}

	reg1, reg2 := float32ToRegisters(value, cfg.ByteOrder)
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], reg1)
	binary.BigEndian.PutUint16(payload[2:4], reg2)
	if _, err := client.WriteMultipleRegisters(parsed.offset, 2, payload); err != nil {
		return fat.NewPlcError(fat.PlcProtocolException, "modbus write failed", err).WithDetail("address", address)
	}
	return nil
}

func (a *Adapter) ReadInt16(ctx context.Context, address string) (int16, error) {
	value, err := a.readRegister(address)
	return int16(value), err
}

func (a *Adapter) WriteInt16(ctx context.Context, address string, value int16) error {
	return a.writeRegister(address, uint16(value))
}

func (a *Adapter) ReadUint16(ctx context.Context, address string) (uint16, error) {
	return a.readRegister(address)
}

func (a *Adapter) WriteUint16(ctx context.Context, address string, value uint16) error {
	return a.writeRegister(address, value)
}

func (a *Adapter) readRegister(address string) (uint16, error) {
	client, cfg, err := a.client()
	if err != nil {
		return 0, err
	}
	parsed, err := parseAddress(address, cfg.ZeroBasedAddress)
	if err != nil {
		return 0, err
	}

	var results []byte
	switch parsed.class {
	case classHoldingRegister:
		results, err = client.ReadHoldingRegisters(parsed.offset, 1)
	case classInputRegister:
		results, err = client.ReadInputRegisters(parsed.offset, 1)
	default:
		return 0, fat.NewPlcError(fat.PlcWrongRegisterClass, "address is not a 16-bit register", nil).WithDetail("address", address)
	}
	if err != nil {
		return 0, fat.NewPlcError(fat.PlcProtocolException, "modbus read failed", err).WithDetail("address", address)
	}
	if len(results) < 2 {
		return 0, fat.NewPlcError(fat.PlcProtocolException, "modbus response too short", nil).WithDetail("address", address)
	}
	return binary.BigEndian.Uint16(results[0:2]), nil
}

func (a *Adapter) writeRegister(address string, value uint16) error {
	client, cfg, err := a.client()
	if err != nil {
		return err
	}
	parsed, err := parseAddress(address, cfg.ZeroBasedAddress)
	if err != nil {
		return err
	}
	if parsed.class != classHoldingRegister {
		return fat.NewPlcError(fat.PlcWrongRegisterClass, "address is not writable as a register", nil).WithDetail("address", address)
	}

	if _, err := client.WriteSingleRegister(parsed.offset, value); err != nil {
		return fat.NewPlcError(fat.PlcProtocolException, "modbus write failed", err).WithDetail("address", address)
	}
	return nil
}
