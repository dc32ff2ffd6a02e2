package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"brokle/internal/config"
)

// Pinger is anything the health handler can ping to prove the dependency is
// reachable. NewGormPinger and NewRedisPinger adapt a *gorm.DB and a
// *redis.Client to it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type gormPinger struct{ db *gorm.DB }

func (p gormPinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// NewGormPinger wraps a *gorm.DB as a Pinger.
func NewGormPinger(db *gorm.DB) Pinger { return gormPinger{db: db} }

type redisPinger struct{ client *goredis.Client }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// NewRedisPinger wraps a *redis.Client as a Pinger.
func NewRedisPinger(client *goredis.Client) Pinger { return redisPinger{client: client} }

// Handler handles health check endpoints.
type Handler struct {
	config    *config.Config
	db        Pinger
	redis     Pinger
	startTime time.Time
}

// NewHandler creates a new health handler. db and redis may be nil if the
// corresponding dependency isn't wired for this deployment.
func NewHandler(cfg *config.Config, db, redis Pinger) *Handler {
	return &Handler{
		config:    cfg,
		db:        db,
		redis:     redis,
		startTime: time.Now(),
	}
}

// HealthResponse reports overall service status.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]HealthCheck `json:"checks,omitempty"`
}

// HealthCheck reports one dependency's status.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Check handles a basic liveness-style health check.
func (h *Handler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startTime).String(),
	})
}

// Ready checks the service and its dependencies (database, Redis).
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := http.StatusOK
	overall := "healthy"

	checks["database"] = h.pingCheck(ctx, h.db)
	if checks["database"].Status != "healthy" {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	checks["redis"] = h.pingCheck(ctx, h.redis)
	if checks["redis"].Status != "healthy" {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	c.JSON(status, HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startTime).String(),
		Checks:    checks,
	})
}

func (h *Handler) pingCheck(ctx context.Context, p Pinger) HealthCheck {
	if p == nil {
		return HealthCheck{Status: "skipped", Message: "not configured"}
	}
	if err := p.Ping(ctx); err != nil {
		return HealthCheck{Status: "unhealthy", Message: err.Error()}
	}
	return HealthCheck{Status: "healthy"}
}

// Live handles a basic liveness check, independent of dependency health.
func (h *Handler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startTime).String(),
	})
}
