package accesskit

import (
	"context"
	"fmt"
	"time"

	"github.com/fernandezvara/dbkit"
)

// Transaction executes fn within a database transaction with automatic
// commit/rollback. fn receives a Service bound to the transaction; use it
// for every operation that must be part of the transaction.
//
// Example:
//
//	err := service.Transaction(ctx, func(ctx context.Context, tx *accesskit.Service) error {
//	    if _, err := tx.CreateResource(ctx, rule); err != nil {
//	        return err // rollback
//	    }
//	    return tx.AddAllowedAddress(ctx, "10.0.0.0/8", "office")
//	})
func (s *Service) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Service) error) error {
	start := time.Now()
	var err error

	switch db := s.db.(type) {
	case *dbkit.Tx:
		// Nested: dbkit uses a savepoint
		err = db.Transaction(ctx, func(inner *dbkit.Tx) error {
			return fn(ctx, s.withDB(inner))
		})
	case *dbkit.DBKit:
		err = db.Transaction(ctx, func(tx *dbkit.Tx) error {
			return fn(ctx, s.withDB(tx))
		})
	default:
		err = fmt.Errorf("transaction support requires a dbkit.DBKit or dbkit.Tx instance")
	}

	s.txMonitor.record(time.Since(start), err == nil)
	return err
}

// TransactionWithOptions executes fn within a transaction with custom options.
// Options are ignored for nested transactions.
//
// Example:
//
//	err := service.TransactionWithOptions(ctx, dbkit.SerializableTxOptions(), func(ctx context.Context, tx *accesskit.Service) error {
//	    return tx.AddHierarchyEdge(ctx, "ROLE_ADMIN", "ROLE_MANAGER")
//	})
func (s *Service) TransactionWithOptions(ctx context.Context, opts dbkit.TxOptions, fn func(ctx context.Context, tx *Service) error) error {
	start := time.Now()
	var err error

	switch db := s.db.(type) {
	case *dbkit.Tx:
		err = db.Transaction(ctx, func(inner *dbkit.Tx) error {
			return fn(ctx, s.withDB(inner))
		})
	case *dbkit.DBKit:
		err = db.TransactionWithOptions(ctx, opts, func(tx *dbkit.Tx) error {
			return fn(ctx, s.withDB(tx))
		})
	default:
		err = fmt.Errorf("transaction support requires a dbkit.DBKit or dbkit.Tx instance")
	}

	s.txMonitor.record(time.Since(start), err == nil)
	return err
}

// ReadOnlyTransaction executes fn within a read-only transaction. Loading
// rules, hierarchy and addresses inside one gives a consistent snapshot.
func (s *Service) ReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx *Service) error) error {
	return s.TransactionWithOptions(ctx, dbkit.ReadOnlyTxOptions(), fn)
}

// LoadAll reads rules, hierarchy and addresses in one read-only transaction.
func (s *Service) LoadAll(ctx context.Context) (*StaticSource, error) {
	var out StaticSource
	err := s.ReadOnlyTransaction(ctx, func(ctx context.Context, tx *Service) error {
		var err error
		if out.Rules, err = tx.LoadRules(ctx); err != nil {
			return err
		}
		if out.Hierarchy, err = tx.LoadHierarchy(ctx); err != nil {
			return err
		}
		out.Addresses, err = tx.LoadAllowedAddresses(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTransactionMetrics returns the current transaction performance metrics.
func (s *Service) GetTransactionMetrics() OperationMetrics {
	return s.txMonitor.metrics()
}

// ResetTransactionMetrics resets all transaction metrics.
func (s *Service) ResetTransactionMetrics() {
	s.txMonitor.reset()
}

// IsTransactionHealthy checks if transaction performance is within acceptable thresholds.
func (s *Service) IsTransactionHealthy() bool {
	metrics := s.txMonitor.metrics()

	// Too few samples to judge
	if metrics.Total < 10 {
		return true
	}
	if metrics.FailureRate() > 0.05 {
		return false
	}
	return metrics.AverageDuration <= time.Second
}
