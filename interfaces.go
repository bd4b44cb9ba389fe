package accesskit

import (
	"context"

	"github.com/fernandezvara/dbkit"
)

// Database defines the database operations interface for dependency injection
type Database interface {
	dbkit.IDB
}

// Decider produces a verdict for an identity and resource.
// *Engine and *Authorizer implement it.
type Decider interface {
	Decide(identity Identity, key ResourceKey) Verdict
}

// Reloader rebuilds snapshots from their source.
type Reloader interface {
	Reload(ctx context.Context) error
}

// TransactionManager defines the transaction management interface
type TransactionManager interface {
	Transaction(ctx context.Context, fn func(ctx context.Context, tx *Service) error) error
	TransactionWithOptions(ctx context.Context, opts dbkit.TxOptions, fn func(ctx context.Context, tx *Service) error) error
	ReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx *Service) error) error
}

// MigrationManager defines the migration management interface
type MigrationManager interface {
	Migrations() []dbkit.Migration
	Migrate(ctx context.Context) ([]string, error)
}

// HealthMonitor defines the health monitoring interface
type HealthMonitor interface {
	Health(ctx context.Context) dbkit.HealthStatus
	IsHealthy(ctx context.Context) bool
	Ping(ctx context.Context) error
	GetPoolStats() dbkit.PoolStats
}

// PoolManager defines the connection pool management interface
type PoolManager interface {
	ConfigureConnectionPool(config PoolConfig) error
	OptimizeConnectionPool(base PoolConfig) error
	ResetConnectionPool() error
}

// ResourceManager defines the administrative operations on stored rules.
type ResourceManager interface {
	CreateResource(ctx context.Context, rule ResourceRule) (int64, error)
	SetResourceRoles(ctx context.Context, id int64, roles []string) error
	SetResourceOrder(ctx context.Context, id int64, order int) error
	DeleteResource(ctx context.Context, id int64) error
	ListResources(ctx context.Context) ([]ResourceRecord, error)
	AddHierarchyEdge(ctx context.Context, parent, child string) error
	RemoveHierarchyEdge(ctx context.Context, parent, child string) error
	AddAllowedAddress(ctx context.Context, address, description string) error
	RemoveAllowedAddress(ctx context.Context, address string) error
}

// TransactionMonitor defines the transaction monitoring interface
type TransactionMonitor interface {
	GetTransactionMetrics() OperationMetrics
	ResetTransactionMetrics()
	IsTransactionHealthy() bool
}

var (
	_ Source             = (*Service)(nil)
	_ Source             = (*StaticSource)(nil)
	_ Source             = (*FileSource)(nil)
	_ Source             = (*RedisSource)(nil)
	_ TransactionManager = (*Service)(nil)
	_ ResourceManager    = (*Service)(nil)
	_ TransactionMonitor = (*Service)(nil)
	_ MigrationManager   = (*MigrationService)(nil)
	_ HealthMonitor      = (*HealthService)(nil)
	_ PoolManager        = (*PoolService)(nil)
	_ Decider            = (*Engine)(nil)
)
