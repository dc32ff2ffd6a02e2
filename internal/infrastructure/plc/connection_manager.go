package plc

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"brokle/internal/core/domain/fat"
)

// pooledConnection is one shared Modbus-TCP session, keyed by "ip:port" so
// two Adapters pointed at the same Test Rig PLC reuse a single socket
// instead of each dialing their own.
type pooledConnection struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
	refs    int
}

// ConnectionManager is the process-global registry of pooled Modbus
// connections. Concurrency-safe; intended to be constructed once per
// process and shared across every Adapter instance.
type ConnectionManager struct {
	mu          sync.Mutex
	connections map[string]*pooledConnection
	logger      *slog.Logger
}

// NewConnectionManager builds an empty registry.
func NewConnectionManager(logger *slog.Logger) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*pooledConnection),
		logger:      logger,
	}
}

func connectionKey(cfg fat.PlcConnectionConfig) string {
	return fmt.Sprintf("%s:%d", cfg.IPAddress, cfg.Port)
}

// acquire returns the pooled connection for cfg, dialing it if this is the
// first caller for that address. Each acquire must be matched by a release.
func (m *ConnectionManager) acquire(cfg fat.PlcConnectionConfig) (*pooledConnection, error) {
	key := connectionKey(cfg)

	m.mu.Lock()
	conn, ok := m.connections[key]
	if !ok {
		handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", cfg.IPAddress, cfg.Port))
		handler.SlaveId = cfg.SlaveID
		handler.Timeout = connectTimeout(cfg)
		conn = &pooledConnection{handler: handler, client: modbus.NewClient(handler)}
		m.connections[key] = conn
	}
	conn.refs++
	m.mu.Unlock()

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if err := conn.handler.Connect(); err != nil {
		return nil, fat.NewPlcError(fat.PlcConnectionRefused, "failed to connect to PLC", err).WithDetail("address", key)
	}
	return conn, nil
}

// release drops this caller's reference, closing the underlying socket once
// nobody else holds it.
func (m *ConnectionManager) release(cfg fat.PlcConnectionConfig) {
	key := connectionKey(cfg)

	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[key]
	if !ok {
		return
	}
	conn.refs--
	if conn.refs > 0 {
		return
	}
	conn.mu.Lock()
	if err := conn.handler.Close(); err != nil {
		m.logger.Warn("failed to close PLC connection", "address", key, "error", err)
	}
	conn.mu.Unlock()
	delete(m.connections, key)
}

func connectTimeout(cfg fat.PlcConnectionConfig) time.Duration {
	if cfg.ConnectTimeoutMs == 0 {
		return 2 * time.Second
	}
	return time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond
}
