package accesskit

import (
	"context"
	"fmt"
	"strings"

	"github.com/fernandezvara/dbkit"
	"github.com/uptrace/bun"
)

// ============================================================================
// RESOURCE OPERATIONS
// ============================================================================

// CreateResource stores a protected resource and its roles. The pattern is
// compiled first, so invalid patterns never reach the database. The actor
// is taken from the context and recorded in the audit log.
//
// Example:
//
//	ctx = accesskit.WithActorID(ctx, adminID)
//	id, err := service.CreateResource(ctx, accesskit.ResourceRule{
//	    Pattern: "/admin/**", RequiredRoles: []string{"ROLE_ADMIN"}, Order: 10,
//	})
func (s *Service) CreateResource(ctx context.Context, rule ResourceRule) (int64, error) {
	if rule.Type == "" {
		rule.Type = ResourceTypeURL
	}
	p, err := CompilePattern(rule.Type, rule.Pattern, rule.HTTPMethod)
	if err != nil {
		return 0, err
	}

	actorID := GetActorID(ctx)
	if actorID == "" {
		return 0, NewError(ErrNoActorID, "actor ID required to create a resource")
	}

	record := &ResourceRecord{
		ResourceName: p.String(),
		HTTPMethod:   p.HTTPMethod(),
		OrderNum:     rule.Order,
		ResourceType: string(p.Type()),
	}
	roles := normalizeRoles(rule.RequiredRoles)

	err = s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		result, err := tx.db.NewInsert().Model(record).Returning("id").Exec(ctx)
		if err := dbkit.WithErr(result, err, "CreateResource").Err(); err != nil {
			return err
		}
		return tx.insertRoles(ctx, record.ID, roles)
	})
	if err != nil {
		return 0, NewError(ErrDatabaseError, err.Error()).WithPattern(rule.Pattern)
	}

	s.audit(ctx, AuditActionCreated, AuditSubjectResource, record.ResourceName, roles, map[string]any{
		"id":     record.ID,
		"order":  record.OrderNum,
		"type":   record.ResourceType,
		"method": record.HTTPMethod,
	})
	return record.ID, nil
}

// SetResourceRoles replaces the roles required by a resource.
func (s *Service) SetResourceRoles(ctx context.Context, id int64, roles []string) error {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return NewError(ErrNoActorID, "actor ID required to update a resource")
	}

	record, err := s.GetResource(ctx, id)
	if err != nil {
		return err
	}
	roles = normalizeRoles(roles)

	err = s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		result, err := tx.db.NewDelete().Model((*ResourceRoleRecord)(nil)).Where("resource_id = ?", id).Exec(ctx)
		if err := dbkit.WithErr(result, err, "DeleteResourceRoles").Err(); err != nil {
			return err
		}
		if err := tx.insertRoles(ctx, id, roles); err != nil {
			return err
		}
		result, err = tx.db.NewUpdate().Table("resources").Set("updated_at = current_timestamp").Where("id = ?", id).Exec(ctx)
		return dbkit.WithErr(result, err, "TouchResource").Err()
	})
	if err != nil {
		return NewError(ErrDatabaseError, err.Error()).WithPattern(record.ResourceName)
	}

	s.audit(ctx, AuditActionUpdated, AuditSubjectResource, record.ResourceName, roles, map[string]any{"id": id})
	return nil
}

// SetResourceOrder moves a resource to a new position in match order.
func (s *Service) SetResourceOrder(ctx context.Context, id int64, order int) error {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return NewError(ErrNoActorID, "actor ID required to update a resource")
	}

	result, err := s.db.NewUpdate().Table("resources").
		Set("order_num = ?", order).
		Set("updated_at = current_timestamp").
		Where("id = ?", id).Exec(ctx)
	if err := dbkit.WithErr(result, err, "SetResourceOrder").Err(); err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return NewError(ErrResourceNotFound, fmt.Sprintf("resource %d", id))
	}

	s.audit(ctx, AuditActionUpdated, AuditSubjectResource, fmt.Sprintf("%d", id), nil, map[string]any{"order": order})
	return nil
}

// DeleteResource removes a resource and its roles.
func (s *Service) DeleteResource(ctx context.Context, id int64) error {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return NewError(ErrNoActorID, "actor ID required to delete a resource")
	}

	record, err := s.GetResource(ctx, id)
	if err != nil {
		return err
	}

	err = s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		result, err := tx.db.NewDelete().Model((*ResourceRoleRecord)(nil)).Where("resource_id = ?", id).Exec(ctx)
		if err := dbkit.WithErr(result, err, "DeleteResourceRoles").Err(); err != nil {
			return err
		}
		result, err = tx.db.NewDelete().Model((*ResourceRecord)(nil)).Where("id = ?", id).Exec(ctx)
		return dbkit.WithErr(result, err, "DeleteResource").Err()
	})
	if err != nil {
		return NewError(ErrDatabaseError, err.Error()).WithPattern(record.ResourceName)
	}

	s.audit(ctx, AuditActionDeleted, AuditSubjectResource, record.ResourceName, record.ToRule().RequiredRoles, map[string]any{"id": id})
	return nil
}

// GetResource loads one resource with its roles.
func (s *Service) GetResource(ctx context.Context, id int64) (*ResourceRecord, error) {
	var record ResourceRecord
	err := dbkit.WithErr1(s.db.NewSelect().Model(&record).Relation("Roles").Where("res.id = ?", id).Limit(1).Scan(ctx), "GetResource").Err()
	if err != nil {
		if dbkit.IsNotFound(err) {
			return nil, NewError(ErrResourceNotFound, fmt.Sprintf("resource %d", id))
		}
		return nil, err
	}
	return &record, nil
}

// ListResources returns every resource in match order.
func (s *Service) ListResources(ctx context.Context) ([]ResourceRecord, error) {
	var records []ResourceRecord
	err := dbkit.WithErr1(s.db.NewSelect().Model(&records).Relation("Roles").Order("order_num ASC", "id ASC").Scan(ctx), "ListResources").Err()
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ResourceExists checks whether a pattern is already stored for a method.
func (s *Service) ResourceExists(ctx context.Context, pattern, httpMethod string) bool {
	exists, err := dbkit.Exists[ResourceRecord](ctx, s.db, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("resource_name = ? AND COALESCE(http_method, '') = ?", pattern, strings.ToUpper(httpMethod))
	})
	if err != nil {
		return false
	}
	return exists
}

// CountResources returns the number of stored resources.
func (s *Service) CountResources(ctx context.Context) (int, error) {
	return dbkit.Count[ResourceRecord](ctx, s.db, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q
	})
}

func (s *Service) insertRoles(ctx context.Context, resourceID int64, roles []string) error {
	if len(roles) == 0 {
		return nil
	}
	models := make([]*ResourceRoleRecord, len(roles))
	for i, role := range roles {
		models[i] = &ResourceRoleRecord{ResourceID: resourceID, RoleName: role}
	}
	_, err := dbkit.BatchInsert(ctx, s.db, models, dbkit.BatchSize)
	return dbkit.WithErr1(err, "InsertResourceRoles").Err()
}

// ============================================================================
// HIERARCHY OPERATIONS
// ============================================================================

// AddHierarchyEdge stores parent > child. The edge is rejected with
// ErrHierarchyCycle if it would close a cycle with the stored edges.
func (s *Service) AddHierarchyEdge(ctx context.Context, parent, child string) error {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return NewError(ErrNoActorID, "actor ID required to change the hierarchy")
	}

	edge := RoleHierarchyEdge{Parent: strings.TrimSpace(parent), Child: strings.TrimSpace(child)}
	err := s.TransactionWithOptions(ctx, dbkit.SerializableTxOptions(), func(ctx context.Context, tx *Service) error {
		edges, err := tx.LoadHierarchy(ctx)
		if err != nil {
			return err
		}
		if _, err := NewRoleHierarchy(append(edges, edge)); err != nil {
			return err
		}
		record := &RoleHierarchyRecord{ParentName: edge.Parent, ChildName: edge.Child}
		result, err := tx.db.NewInsert().Model(record).On("CONFLICT (parent_name, child_name) DO NOTHING").Exec(ctx)
		return dbkit.WithErr(result, err, "AddHierarchyEdge").Err()
	})
	if err != nil {
		if IsConfigError(err) {
			return err
		}
		return NewError(ErrDatabaseError, err.Error()).WithRole(edge.Parent)
	}

	s.audit(ctx, AuditActionCreated, AuditSubjectHierarchy, edge.String(), []string{edge.Parent, edge.Child}, nil)
	return nil
}

// RemoveHierarchyEdge deletes parent > child.
func (s *Service) RemoveHierarchyEdge(ctx context.Context, parent, child string) error {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return NewError(ErrNoActorID, "actor ID required to change the hierarchy")
	}

	result, err := s.db.NewDelete().Model((*RoleHierarchyRecord)(nil)).Where("parent_name = ? AND child_name = ?", parent, child).Exec(ctx)
	if err := dbkit.WithErr(result, err, "RemoveHierarchyEdge").Err(); err != nil {
		return NewError(ErrDatabaseError, err.Error()).WithRole(parent)
	}

	edge := RoleHierarchyEdge{Parent: parent, Child: child}
	s.audit(ctx, AuditActionDeleted, AuditSubjectHierarchy, edge.String(), []string{parent, child}, nil)
	return nil
}

// ReplaceHierarchy validates text in "PARENT > CHILD" form and replaces all stored edges.
func (s *Service) ReplaceHierarchy(ctx context.Context, text string) error {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return NewError(ErrNoActorID, "actor ID required to change the hierarchy")
	}

	edges, err := ParseHierarchy(text)
	if err != nil {
		return err
	}
	h, err := NewRoleHierarchy(edges)
	if err != nil {
		return err
	}

	err = s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		result, err := tx.db.NewDelete().Model((*RoleHierarchyRecord)(nil)).Where("1 = 1").Exec(ctx)
		if err := dbkit.WithErr(result, err, "ClearHierarchy").Err(); err != nil {
			return err
		}
		for _, e := range h.Edges() {
			result, err := tx.db.NewInsert().Model(&RoleHierarchyRecord{ParentName: e.Parent, ChildName: e.Child}).Exec(ctx)
			if err := dbkit.WithErr(result, err, "InsertHierarchyEdge").Err(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return NewError(ErrDatabaseError, err.Error())
	}

	s.audit(ctx, AuditActionUpdated, AuditSubjectHierarchy, "*", nil, map[string]any{"hierarchy": h.String()})
	return nil
}

// ============================================================================
// ACCESS IP OPERATIONS
// ============================================================================

// AddAllowedAddress stores an address or CIDR prefix. Adding an existing entry is a no-op.
func (s *Service) AddAllowedAddress(ctx context.Context, address, description string) error {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return NewError(ErrNoActorID, "actor ID required to change the allow-list")
	}
	address = strings.TrimSpace(address)
	if _, err := NewAllowList([]string{address}); err != nil {
		return err
	}

	record := &AccessIPRecord{IPAddress: address, Description: description}
	result, err := s.db.NewInsert().Model(record).On("CONFLICT (ip_address) DO NOTHING").Exec(ctx)
	if err := dbkit.WithErr(result, err, "AddAllowedAddress").Err(); err != nil {
		return NewError(ErrDatabaseError, err.Error())
	}

	s.audit(ctx, AuditActionCreated, AuditSubjectAccessIP, address, nil, nil)
	return nil
}

// RemoveAllowedAddress deletes an allow-list entry.
func (s *Service) RemoveAllowedAddress(ctx context.Context, address string) error {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return NewError(ErrNoActorID, "actor ID required to change the allow-list")
	}

	result, err := s.db.NewDelete().Model((*AccessIPRecord)(nil)).Where("ip_address = ?", address).Exec(ctx)
	if err := dbkit.WithErr(result, err, "RemoveAllowedAddress").Err(); err != nil {
		return NewError(ErrDatabaseError, err.Error())
	}

	s.audit(ctx, AuditActionDeleted, AuditSubjectAccessIP, address, nil, nil)
	return nil
}

// ImportSource writes every rule, edge and address of src. Existing data is kept.
func (s *Service) ImportSource(ctx context.Context, src *StaticSource) error {
	return s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		for _, r := range src.Rules {
			if _, err := tx.CreateResource(ctx, r); err != nil {
				return err
			}
		}
		for _, e := range src.Hierarchy {
			if err := tx.AddHierarchyEdge(ctx, e.Parent, e.Child); err != nil {
				return err
			}
		}
		for _, a := range src.Addresses {
			if err := tx.AddAllowedAddress(ctx, a, "imported"); err != nil {
				return err
			}
		}
		return nil
	})
}
