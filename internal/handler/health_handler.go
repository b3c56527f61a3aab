package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/rail-reservation/pkg/database"
	pkgredis "github.com/prohmpiriya/rail-reservation/pkg/redis"
)

// HealthChecker is a dependency that can report its own health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type namedCheck struct {
	name    string
	checker HealthChecker
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db       *database.PostgresDB
	redis    *pkgredis.Client
	strategy string
	checks   []namedCheck
}

// NewHealthHandler creates a new HealthHandler. Nil dependencies are reported
// as not configured.
func NewHealthHandler(db *database.PostgresDB, redis *pkgredis.Client, strategy string) *HealthHandler {
	h := &HealthHandler{db: db, redis: redis, strategy: strategy}
	if db != nil {
		h.AddCheck("database", db)
	}
	if redis != nil {
		h.AddCheck("redis", redis)
	}
	return h
}

// AddCheck registers an extra readiness check
func (h *HealthHandler) AddCheck(name string, checker HealthChecker) {
	h.checks = append(h.checks, namedCheck{name: name, checker: checker})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadyResponse represents readiness check response
type ReadyResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components"`
}

// PoolStatsResponse reports connection pool usage
type PoolStatsResponse struct {
	Strategy string             `json:"strategy"`
	Postgres *PostgresPoolStats `json:"postgres,omitempty"`
	Redis    *RedisPoolStats    `json:"redis,omitempty"`
}

// PostgresPoolStats mirrors pgxpool.Stat
type PostgresPoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// RedisPoolStats mirrors go-redis PoolStats
type RedisPoolStats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
}

// Health returns a simple health check for liveness
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready reports whether Postgres and Redis answer
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := map[string]string{
		"database": "not configured",
		"redis":    "not configured",
	}
	allHealthy := true

	for _, check := range h.checks {
		if err := check.checker.HealthCheck(ctx); err != nil {
			components[check.name] = "unhealthy: " + err.Error()
			allHealthy = false
			continue
		}
		components[check.name] = "healthy"
	}

	response := ReadyResponse{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}

	if allHealthy {
		response.Status = "ready"
		c.JSON(http.StatusOK, response)
	} else {
		response.Status = "not ready"
		c.JSON(http.StatusServiceUnavailable, response)
	}
}

// Metrics returns connection pool statistics as JSON
func (h *HealthHandler) Metrics(c *gin.Context) {
	resp := PoolStatsResponse{Strategy: h.strategy}

	if h.db != nil {
		stat := h.db.Stats()
		resp.Postgres = &PostgresPoolStats{
			TotalConns:      stat.TotalConns(),
			IdleConns:       stat.IdleConns(),
			AcquiredConns:   stat.AcquiredConns(),
			MaxConns:        stat.MaxConns(),
			AcquireCount:    stat.AcquireCount(),
			AcquireDuration: stat.AcquireDuration().String(),
		}
	}

	if h.redis != nil {
		stats := h.redis.Client().PoolStats()
		resp.Redis = &RedisPoolStats{
			Hits:       stats.Hits,
			Misses:     stats.Misses,
			Timeouts:   stats.Timeouts,
			TotalConns: stats.TotalConns,
			IdleConns:  stats.IdleConns,
			StaleConns: stats.StaleConns,
		}
	}

	c.JSON(http.StatusOK, resp)
}
