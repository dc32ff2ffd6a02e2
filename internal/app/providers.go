package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"brokle/internal/config"
	"brokle/internal/core/domain/fat"
	"brokle/internal/core/services/coordination"
	"brokle/internal/core/services/execution"
	"brokle/internal/core/services/statemanager"
	"brokle/internal/infrastructure/database"
	fatRepo "brokle/internal/infrastructure/repository/fat"
	"brokle/internal/infrastructure/plc"
	redisRepo "brokle/internal/infrastructure/repository/redis"
	httpTransport "brokle/internal/transport/http"
	"brokle/internal/transport/http/handlers/batch"
	"brokle/internal/transport/http/handlers/health"
	"brokle/internal/transport/http/handlers/instance"
	"brokle/internal/transport/http/handlers/metrics"
	wsHandler "brokle/internal/transport/http/handlers/websocket"
	"brokle/pkg/events"
)

// DeploymentMode selects which half of the rig controller a process runs:
// the operator-facing API (ModeServer) or the batch-resuming background
// half with no HTTP surface (ModeWorker).
type DeploymentMode string

const (
	ModeServer DeploymentMode = "server"
	ModeWorker DeploymentMode = "worker"
)

// defaultModbusPort is the standard Modbus/TCP port; the rig config upload
// only carries the PLC's address, not its port, since every brand this rig
// controller talks to listens on the IANA-assigned default.
const defaultModbusPort = 502

// defaultSlaveID is the Modbus unit identifier assumed for the Test Rig
// PLC when none is configured explicitly.
const defaultSlaveID = 1

// CoreContainer holds every dependency shared by both deployment modes:
// config, logging, storage, and the FAT domain services themselves.
type CoreContainer struct {
	Config      *config.Config
	Logger      *slog.Logger
	DB          *database.SQLDB
	Redis       *database.RedisDB
	Cache       *redisRepo.CacheRepository
	Persistence fat.PersistenceService
	RigConfig   fatRepo.RigConfigStore
	PlcManager  *plc.ConnectionManager
	PlcAdapter  *plc.Adapter
	StateMgr    *statemanager.Manager
	Engine      *execution.Engine
	Broadcaster *events.Broadcaster
	Events      *events.Publisher
	Coordinator *coordination.Service
}

// ProviderContainer is the top-level dependency graph for one process.
type ProviderContainer struct {
	Core   *CoreContainer
	Server *httpTransport.Server // nil in worker mode
	Mode   DeploymentMode
}

// ProvideCore builds every dependency shared by the server and worker
// entry points: database connections, the PLC adapter, and the three FAT
// subsystems (Channel State Manager, Test Execution Engine, Test
// Coordination Service).
func ProvideCore(cfg *config.Config, logger *slog.Logger) (*CoreContainer, error) {
	db, err := database.NewDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := fatRepo.Migrate(db.DB); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	redisDB, err := database.NewRedisDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}
	cache := redisRepo.NewCacheRepository(redisDB)

	persistence := fatRepo.NewPersistenceService(db.DB)
	rigConfig := fatRepo.NewCachedRigConfigStore(fatRepo.NewRigConfigRepository(db.DB), cache)

	plcManager := plc.NewConnectionManager(logger)
	plcAdapter := plc.NewAdapter(plcManager)
	if err := connectRigPlc(context.Background(), rigConfig, cfg, plcAdapter, logger); err != nil {
		logger.Warn("test rig PLC not reachable at startup, adapter stays disconnected", "error", err)
	}

	stateMgr := statemanager.New(persistence)

	poolSize := cfg.Execution.ExecutionPoolSize
	engine := execution.New(plcAdapter, poolSize, logger)

	broadcaster := events.NewBroadcaster(&events.BroadcasterConfig{
		BufferSize:        cfg.Events.BufferSize,
		MaxSubscribers:    cfg.Events.MaxSubscribers,
		DefaultChannelTTL: 24 * time.Hour,
		CleanupInterval:   cfg.Events.CleanupInterval,
		SubscriberTimeout: cfg.Events.SubscriberTimeout,
	})
	broadcaster.Start()
	publisher := events.NewPublisher(broadcaster)

	coordinator := coordination.New(stateMgr, engine, persistence, publisher, rigConfig, logger)

	return &CoreContainer{
		Config:      cfg,
		Logger:      logger,
		DB:          db,
		Redis:       redisDB,
		Cache:       cache,
		Persistence: persistence,
		RigConfig:   rigConfig,
		PlcManager:  plcManager,
		PlcAdapter:  plcAdapter,
		StateMgr:    stateMgr,
		Engine:      engine,
		Broadcaster: broadcaster,
		Events:      publisher,
		Coordinator: coordinator,
	}, nil
}

// connectRigPlc loads the active rig config, if one has been uploaded, and
// dials its PLC so the Test Execution Engine doesn't pay connection setup
// latency on the first submitted batch.
func connectRigPlc(ctx context.Context, rigConfig fat.TestRigConfigProvider, cfg *config.Config, adapter *plc.Adapter, logger *slog.Logger) error {
	rig, err := rigConfig.GetTestRigConfig(ctx)
	if err != nil {
		return err
	}

	plcCfg := fat.PlcConnectionConfig{
		IPAddress:        rig.IPAddress,
		Port:             defaultModbusPort,
		SlaveID:          defaultSlaveID,
		ByteOrder:        fat.ByteOrder(cfg.PLC.DefaultByteOrder),
		ZeroBasedAddress: cfg.PLC.ZeroBasedAddress,
		ConnectTimeoutMs: cfg.PLC.ConnectTimeoutMs,
		ReadTimeoutMs:    cfg.PLC.ReadTimeoutMs,
		WriteTimeoutMs:   cfg.PLC.WriteTimeoutMs,
	}
	if err := adapter.Connect(ctx, plcCfg); err != nil {
		return err
	}
	logger.Info("connected to test rig PLC", "address", rig.IPAddress)
	return nil
}

// ProvideServer wires the HTTP handlers and route table around core's
// already-constructed FAT services.
func ProvideServer(core *CoreContainer) (*httpTransport.Server, error) {
	handlers := &httpTransport.Handlers{
		Health: health.NewHandler(core.Config,
			health.NewGormPinger(core.DB.DB),
			health.NewRedisPinger(core.Redis.Client),
		),
		Metrics:   metrics.NewHandler(),
		Batch:     batch.NewHandler(core.Coordinator),
		Instance:  instance.NewHandler(core.Coordinator),
		WebSocket: wsHandler.NewHandler(core.Config, core.Logger, core.Broadcaster),
	}

	return httpTransport.NewServer(core.Config, core.Logger, handlers), nil
}

// Shutdown releases every resource ProvideCore acquired: the PLC connection,
// the event broadcaster's background loop, and both database connections.
func (p *ProviderContainer) Shutdown() error {
	if p.Core == nil {
		return nil
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if p.Core.PlcAdapter != nil {
		record(p.Core.PlcAdapter.Disconnect(context.Background()))
	}
	if p.Core.Broadcaster != nil {
		p.Core.Broadcaster.Stop()
	}
	if p.Core.Redis != nil {
		record(p.Core.Redis.Close())
	}
	if p.Core.DB != nil {
		record(p.Core.DB.Close())
	}

	return firstErr
}

// HealthCheck reports the status of every dependency ProvideCore wired.
func (p *ProviderContainer) HealthCheck() map[string]string {
	status := make(map[string]string)
	if p.Core == nil {
		status["status"] = "not initialized"
		return status
	}

	if err := p.Core.DB.Health(); err != nil {
		status["database"] = "unhealthy: " + err.Error()
	} else {
		status["database"] = "healthy"
	}

	if err := p.Core.Redis.Health(); err != nil {
		status["redis"] = "unhealthy: " + err.Error()
	} else {
		status["redis"] = "healthy"
	}

	if p.Core.PlcAdapter.IsConnected() {
		status["plc"] = "connected"
	} else {
		status["plc"] = "disconnected"
	}

	return status
}

// resumeActiveBatches reloads every batch the persistence layer still
// considers in progress into the Test Coordination Service's in-memory
// tracking set. Used by worker startup, and by the server in case it was
// restarted mid-batch.
func resumeActiveBatches(ctx context.Context, core *CoreContainer) error {
	batches, err := core.Persistence.LoadAllBatches(ctx)
	if err != nil {
		return fmt.Errorf("failed to load batches: %w", err)
	}

	for _, b := range batches {
		if b.InProgress == 0 {
			continue
		}
		if err := core.Coordinator.LoadExistingBatch(ctx, b.BatchID); err != nil {
			core.Logger.Warn("failed to resume in-progress batch", "batch_id", b.BatchID, "error", err)
			continue
		}
		core.Logger.Info("resumed in-progress batch", "batch_id", b.BatchID)
	}

	return nil
}
