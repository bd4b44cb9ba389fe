package accesskit

import (
	"context"

	"github.com/fernandezvara/dbkit"
	"go.uber.org/zap"
)

// MigrationService provides migration management functionality as an extension to Service
type MigrationService struct {
	*Service
}

// NewMigrationService creates a new migration service extension
func NewMigrationService(service *Service) *MigrationService {
	return &MigrationService{Service: service}
}

// Migrations returns all database migrations required for AccessKit.
// Use db.Migrate(ctx, ms.Migrations()) to run them, or ms.Migrate(ctx).
func (ms *MigrationService) Migrations() []dbkit.Migration {
	return []dbkit.Migration{
		{
			ID:          "accesskit-001",
			Description: "Create resources table",
			SQL: `
                CREATE TABLE IF NOT EXISTS resources (
                    id BIGSERIAL PRIMARY KEY,
                    resource_name TEXT NOT NULL,
                    http_method TEXT NOT NULL DEFAULT '',
                    order_num INTEGER NOT NULL DEFAULT 0,
                    resource_type TEXT NOT NULL DEFAULT 'url',
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                )`,
		},
		{
			ID:          "accesskit-002",
			Description: "Create resource_roles table",
			SQL: `
                CREATE TABLE IF NOT EXISTS resource_roles (
                    resource_id BIGINT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
                    role_name TEXT NOT NULL,
                    PRIMARY KEY (resource_id, role_name)
                )`,
		},
		{
			ID:          "accesskit-003",
			Description: "Create role_hierarchy table",
			SQL: `
                CREATE TABLE IF NOT EXISTS role_hierarchy (
                    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
                    parent_name TEXT NOT NULL,
                    child_name TEXT NOT NULL,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    CHECK (parent_name <> child_name)
                )`,
		},
		{
			ID:          "accesskit-004",
			Description: "Create access_ips table",
			SQL: `
                CREATE TABLE IF NOT EXISTS access_ips (
                    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
                    ip_address TEXT NOT NULL UNIQUE,
                    description TEXT NOT NULL DEFAULT '',
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                )`,
		},
		{
			ID:          "accesskit-005",
			Description: "Create access_audit_log table",
			SQL: `
                CREATE TABLE IF NOT EXISTS access_audit_log (
                    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
                    timestamp TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    actor_id TEXT NOT NULL,
                    action TEXT NOT NULL,
                    subject TEXT NOT NULL,
                    target TEXT NOT NULL,
                    roles TEXT[],
                    ip_address TEXT,
                    user_agent TEXT,
                    request_id TEXT,
                    metadata JSONB
                )`,
		},
		{
			ID:          "accesskit-006",
			Description: "Create unique and lookup indexes",
			SQL: `
                CREATE UNIQUE INDEX IF NOT EXISTS idx_resources_name_method
                    ON resources(resource_name, http_method, resource_type);
                CREATE INDEX IF NOT EXISTS idx_resources_order
                    ON resources(order_num, id);
                CREATE UNIQUE INDEX IF NOT EXISTS idx_role_hierarchy_edge
                    ON role_hierarchy(parent_name, child_name);
                CREATE INDEX IF NOT EXISTS idx_audit_log_actor
                    ON access_audit_log(actor_id);
                CREATE INDEX IF NOT EXISTS idx_audit_log_subject_target
                    ON access_audit_log(subject, target);
                CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp
                    ON access_audit_log(timestamp DESC)`,
		},
	}
}

// Migrate applies every pending migration. It requires a dbkit.DBKit instance.
func (ms *MigrationService) Migrate(ctx context.Context) ([]string, error) {
	db, ok := ms.db.(*dbkit.DBKit)
	if !ok {
		return nil, NewError(ErrInvalidConfig, "migrations require a dbkit.DBKit instance")
	}

	result, err := db.Migrate(ctx, ms.Migrations())
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0, len(result.Applied))
	for _, m := range result.Applied {
		applied = append(applied, m.ID)
	}
	if len(applied) > 0 {
		ms.logger.Info("migrations applied", zap.Strings("ids", applied))
	}
	return applied, nil
}
