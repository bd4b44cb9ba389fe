package accesskit

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fernandezvara/dbkit"
	"go.uber.org/zap"
)

// Service stores protected resources, role hierarchy and allowed addresses
// in PostgreSQL through dbkit, and serves them as a Source.
//
// Error Handling:
// All database operations use dbkit's chainable error wrapping to provide
// detailed context about failed operations. Errors include operation names,
// database context, and preserve original error types for classification.
//
// Example error handling:
//
//	_, err := service.CreateResource(ctx, rule)
//	if err != nil {
//	    if accesskit.IsConfigError(err) {
//	        // Pattern did not compile
//	    }
//	    if dbkit.IsDuplicate(err) {
//	        // Handle duplicate resource
//	    }
//	    var dbErr *dbkit.Error
//	    if errors.As(err, &dbErr) {
//	        fmt.Printf("Operation: %s, Table: %s\n", dbErr.Operation, dbErr.Table)
//	    }
//	}
type Service struct {
	db        dbkit.IDB
	txMonitor *opMonitor
	logger    *zap.Logger
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger.
func WithServiceLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a new AccessKit database service.
//
// Example:
//
//	db, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	service := accesskit.NewService(db)
//	authorizer, err := accesskit.NewAuthorizer(ctx, service, cfg.Decision)
func NewService(db dbkit.IDB, opts ...ServiceOption) *Service {
	s := &Service{
		db:        db,
		txMonitor: newOpMonitor(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// withDB returns a shallow copy bound to db, sharing the monitor.
func (s *Service) withDB(db dbkit.IDB) *Service {
	return &Service{db: db, txMonitor: s.txMonitor, logger: s.logger}
}

// ============================================================================
// SOURCE
// ============================================================================

// LoadRules implements RuleSource. Resources are ordered by order_num, then id.
func (s *Service) LoadRules(ctx context.Context) ([]ResourceRule, error) {
	var records []ResourceRecord
	err := dbkit.WithErr1(s.db.NewSelect().Model(&records).Relation("Roles").Order("order_num ASC", "id ASC").Scan(ctx), "LoadRules").Err()
	if err != nil {
		return nil, err
	}
	rules := make([]ResourceRule, 0, len(records))
	for i := range records {
		rules = append(rules, records[i].ToRule())
	}
	return rules, nil
}

// LoadHierarchy implements HierarchySource.
func (s *Service) LoadHierarchy(ctx context.Context) ([]RoleHierarchyEdge, error) {
	var records []RoleHierarchyRecord
	err := dbkit.WithErr1(s.db.NewSelect().Model(&records).Order("parent_name ASC", "child_name ASC").Scan(ctx), "LoadHierarchy").Err()
	if err != nil {
		return nil, err
	}
	edges := make([]RoleHierarchyEdge, 0, len(records))
	for _, r := range records {
		edges = append(edges, RoleHierarchyEdge{Parent: r.ParentName, Child: r.ChildName})
	}
	return edges, nil
}

// LoadAllowedAddresses implements AddressSource.
func (s *Service) LoadAllowedAddresses(ctx context.Context) ([]string, error) {
	var addrs []string
	err := dbkit.WithErr1(s.db.NewRaw("SELECT ip_address FROM access_ips ORDER BY ip_address").Scan(ctx, &addrs), "LoadAllowedAddresses").Err()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return addrs, nil
}

// ============================================================================
// AUDIT LOG
// ============================================================================

// GetAuditLog retrieves audit log entries with optional filters.
func (s *Service) GetAuditLog(ctx context.Context, filter AuditLogFilter) ([]ChangeAuditLog, error) {
	var logs []ChangeAuditLog
	q := s.db.NewSelect().Model(&logs)
	if filter.ActorID != "" {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if filter.Subject != "" {
		q = q.Where("subject = ?", filter.Subject)
	}
	if filter.Target != "" {
		q = q.Where("target = ?", filter.Target)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.Role != "" {
		q = q.Where("? = ANY(roles)", filter.Role)
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("timestamp <= ?", filter.Until)
	}

	limit := filter.Limit
	if limit == 0 {
		limit = 100 // Default limit
	}
	q = q.Limit(limit)

	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	q = q.Order("timestamp DESC")
	err := dbkit.WithErr1(q.Scan(ctx), "GetAuditLog").Err()
	if err != nil {
		return nil, err
	}

	return logs, nil
}
