package accesskit

import (
	"fmt"
	"time"

	"github.com/fernandezvara/dbkit"
	"go.uber.org/zap"
)

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConnections    int           `koanf:"max_open_connections" validate:"min=1"`
	MaxIdleConnections    int           `koanf:"max_idle_connections" validate:"min=0"`
	ConnectionMaxLifetime time.Duration `koanf:"connection_max_lifetime"`
	ConnectionMaxIdleTime time.Duration `koanf:"connection_max_idle_time"`
}

// DefaultPoolConfig returns pool settings suited to a read-mostly rule store.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConnections:    10,
		MaxIdleConnections:    5,
		ConnectionMaxLifetime: 30 * time.Minute,
		ConnectionMaxIdleTime: 5 * time.Minute,
	}
}

// PoolService provides connection pool management functionality as an extension to Service
type PoolService struct {
	*HealthService
}

// NewPoolService creates a new pool service extension
func NewPoolService(service *Service) *PoolService {
	return &PoolService{HealthService: NewHealthService(service)}
}

// ConfigureConnectionPool updates the database connection pool settings.
func (ps *PoolService) ConfigureConnectionPool(config PoolConfig) error {
	db, ok := ps.db.(*dbkit.DBKit)
	if !ok {
		return fmt.Errorf("connection pool configuration requires a dbkit.DBKit instance")
	}
	bunDB := db.Bun()
	if bunDB == nil {
		return fmt.Errorf("database instance not available")
	}

	bunDB.SetMaxOpenConns(config.MaxOpenConnections)
	bunDB.SetMaxIdleConns(config.MaxIdleConnections)
	bunDB.SetConnMaxLifetime(config.ConnectionMaxLifetime)
	bunDB.SetConnMaxIdleTime(config.ConnectionMaxIdleTime)

	ps.logger.Info("connection pool configured",
		zap.Int("max_open", config.MaxOpenConnections),
		zap.Int("max_idle", config.MaxIdleConnections),
		zap.Duration("max_lifetime", config.ConnectionMaxLifetime),
		zap.Duration("max_idle_time", config.ConnectionMaxIdleTime))
	return nil
}

// OptimizeConnectionPool adjusts pool size to current usage, starting from base.
func (ps *PoolService) OptimizeConnectionPool(base PoolConfig) error {
	stats := ps.GetPoolStats()
	next := base

	if stats.MaxOpenConnections > 0 {
		// Mostly busy: grow
		if float64(stats.InUse)/float64(stats.MaxOpenConnections) > 0.8 {
			next.MaxOpenConnections = int(float64(base.MaxOpenConnections) * 1.5)
			next.MaxIdleConnections = int(float64(base.MaxIdleConnections) * 1.5)
		}
		// Mostly idle: shrink
		if float64(stats.Idle)/float64(stats.MaxOpenConnections) > 0.8 {
			next.MaxOpenConnections = int(float64(base.MaxOpenConnections) * 0.75)
			next.MaxIdleConnections = int(float64(base.MaxIdleConnections) * 0.75)
		}
	}

	if next.MaxOpenConnections < 5 {
		next.MaxOpenConnections = 5
	}
	if next.MaxIdleConnections < 2 {
		next.MaxIdleConnections = 2
	}

	return ps.ConfigureConnectionPool(next)
}

// ResetConnectionPool resets the connection pool to default settings.
func (ps *PoolService) ResetConnectionPool() error {
	return ps.ConfigureConnectionPool(DefaultPoolConfig())
}
