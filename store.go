package accesskit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Store component names, used in logs and metrics.
const (
	ComponentRules     = "rules"
	ComponentHierarchy = "hierarchy"
	ComponentAllowList = "allowlist"
)

// StoreOption configures a store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	logger  *zap.Logger
	metrics *Metrics
}

// WithStoreLogger sets the logger used for reload events.
func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(o *storeOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStoreMetrics sets the metrics sink for reload events.
func WithStoreMetrics(m *Metrics) StoreOption {
	return func(o *storeOptions) {
		o.metrics = m
	}
}

// snapshotStore publishes immutable snapshots through an atomic pointer.
// Readers never lock; a reload builds a complete snapshot and swaps it in.
// Concurrent reloads share one load only when that load started after the
// caller asked for it; a caller arriving mid-load triggers another load.
type snapshotStore[T any] struct {
	component string
	current   atomic.Pointer[T]
	version   atomic.Uint64
	requested atomic.Uint64
	publishMu sync.Mutex
	group     singleflight.Group
	build     func(ctx context.Context) (*T, error)
	stamp     func(*T, uint64)
	size      func(*T) int
	logger    *zap.Logger
	metrics   *Metrics
	monitor   *opMonitor
}

func newSnapshotStore[T any](component string, build func(context.Context) (*T, error), stamp func(*T, uint64), size func(*T) int, opts []StoreOption) *snapshotStore[T] {
	o := storeOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &snapshotStore[T]{
		component: component,
		build:     build,
		stamp:     stamp,
		size:      size,
		logger:    o.logger.With(zap.String("component", component)),
		metrics:   o.metrics,
		monitor:   newOpMonitor(),
	}
}

func (s *snapshotStore[T]) reload(ctx context.Context) error {
	want := s.requested.Add(1)
	for {
		v, err, _ := s.group.Do(s.component, func() (any, error) {
			started := s.requested.Load()
			return started, s.loadAndPublish(ctx)
		})
		if started, _ := v.(uint64); started >= want {
			return err
		}
		// The shared load began before this request; its data may be stale.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
}

func (s *snapshotStore[T]) loadAndPublish(ctx context.Context) error {
	start := time.Now()
	next, err := s.build(ctx)
	elapsed := time.Since(start)
	s.monitor.record(elapsed, err == nil)
	if err != nil {
		s.metrics.observeReload(s.component, err, 0)
		s.logger.Error("reload failed, keeping previous snapshot",
			zap.Error(err),
			zap.Uint64("version", s.version.Load()),
			zap.Duration("duration", elapsed))
		return err
	}
	version := s.publish(next)
	s.logger.Info("snapshot reloaded",
		zap.Int("entries", s.size(next)),
		zap.Uint64("version", version),
		zap.Duration("duration", elapsed))
	return nil
}

// publish stamps and stores next under publishMu so that versions grow in
// store order.
func (s *snapshotStore[T]) publish(next *T) uint64 {
	s.publishMu.Lock()
	version := s.version.Add(1)
	s.stamp(next, version)
	s.current.Store(next)
	s.publishMu.Unlock()
	s.metrics.observeReload(s.component, nil, s.size(next))
	return version
}

func (s *snapshotStore[T]) load() *T {
	return s.current.Load()
}

// ============================================================================
// RULE STORE
// ============================================================================

// RuleStore holds the live rule table.
type RuleStore struct {
	*snapshotStore[RuleTable]
	source RuleSource
}

// NewRuleStore creates a store that loads from source. Call Reload before use.
func NewRuleStore(source RuleSource, opts ...StoreOption) *RuleStore {
	rs := &RuleStore{source: source}
	rs.snapshotStore = newSnapshotStore(ComponentRules,
		func(ctx context.Context) (*RuleTable, error) {
			rules, err := source.LoadRules(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
			}
			return NewRuleTable(rules)
		},
		func(t *RuleTable, v uint64) { t.version = v },
		(*RuleTable).Len,
		opts)
	return rs
}

// Reload loads and publishes a new rule table. On failure the previous
// table stays in place and the error is returned.
func (s *RuleStore) Reload(ctx context.Context) error {
	return s.reload(ctx)
}

// Replace compiles and publishes rules directly.
func (s *RuleStore) Replace(rules []ResourceRule) error {
	t, err := NewRuleTable(rules)
	if err != nil {
		return err
	}
	s.publish(t)
	return nil
}

// Snapshot returns the current table, or nil before the first load.
func (s *RuleStore) Snapshot() *RuleTable {
	return s.load()
}

// Match matches against the current table. Nothing matches before the first load.
func (s *RuleStore) Match(key ResourceKey) (ResourceRule, bool) {
	t := s.load()
	if t == nil {
		return ResourceRule{}, false
	}
	return t.Match(key)
}

// Loaded reports whether a table has been published.
func (s *RuleStore) Loaded() bool {
	return s.load() != nil
}

// ReloadMetrics returns reload statistics.
func (s *RuleStore) ReloadMetrics() OperationMetrics {
	return s.monitor.metrics()
}

// ============================================================================
// HIERARCHY STORE
// ============================================================================

// HierarchyStore holds the live role hierarchy and implements RoleExpander.
type HierarchyStore struct {
	*snapshotStore[RoleHierarchy]
	source HierarchySource
}

// NewHierarchyStore creates a store that loads from source.
func NewHierarchyStore(source HierarchySource, opts ...StoreOption) *HierarchyStore {
	hs := &HierarchyStore{source: source}
	hs.snapshotStore = newSnapshotStore(ComponentHierarchy,
		func(ctx context.Context) (*RoleHierarchy, error) {
			edges, err := source.LoadHierarchy(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
			}
			return NewRoleHierarchy(edges)
		},
		func(h *RoleHierarchy, v uint64) { h.version = v },
		func(h *RoleHierarchy) int { return len(h.edges) },
		opts)
	return hs
}

// Reload loads and publishes a new hierarchy. A cycle keeps the previous one.
func (s *HierarchyStore) Reload(ctx context.Context) error {
	return s.reload(ctx)
}

// Replace builds and publishes a hierarchy directly.
func (s *HierarchyStore) Replace(edges []RoleHierarchyEdge) error {
	h, err := NewRoleHierarchy(edges)
	if err != nil {
		return err
	}
	s.publish(h)
	return nil
}

// Snapshot returns the current hierarchy, or nil before the first load.
func (s *HierarchyStore) Snapshot() *RoleHierarchy {
	return s.load()
}

// Expand expands roles with the current hierarchy. Before the first load
// roles are returned unchanged.
func (s *HierarchyStore) Expand(roles []string) []string {
	h := s.load()
	if h == nil {
		h = EmptyHierarchy()
	}
	return h.Expand(roles)
}

// Version returns the version of the current hierarchy, 0 before the first load.
func (s *HierarchyStore) Version() uint64 {
	if h := s.load(); h != nil {
		return h.version
	}
	return 0
}

// ReloadMetrics returns reload statistics.
func (s *HierarchyStore) ReloadMetrics() OperationMetrics {
	return s.monitor.metrics()
}

// ============================================================================
// ALLOW-LIST STORE
// ============================================================================

// AllowListStore holds the live address allow-list.
type AllowListStore struct {
	*snapshotStore[AllowList]
	source AddressSource
}

// NewAllowListStore creates a store that loads from source.
func NewAllowListStore(source AddressSource, opts ...StoreOption) *AllowListStore {
	as := &AllowListStore{source: source}
	as.snapshotStore = newSnapshotStore(ComponentAllowList,
		func(ctx context.Context) (*AllowList, error) {
			addrs, err := source.LoadAllowedAddresses(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
			}
			return NewAllowList(addrs)
		},
		func(a *AllowList, v uint64) { a.version = v },
		(*AllowList).Len,
		opts)
	return as
}

// Reload loads and publishes a new allow-list.
func (s *AllowListStore) Reload(ctx context.Context) error {
	return s.reload(ctx)
}

// Replace validates and publishes entries directly.
func (s *AllowListStore) Replace(entries []string) error {
	al, err := NewAllowList(entries)
	if err != nil {
		return err
	}
	s.publish(al)
	return nil
}

// Snapshot returns the current allow-list, or nil before the first load.
func (s *AllowListStore) Snapshot() *AllowList {
	return s.load()
}

// Contains checks the current allow-list. Nothing is allowed before the first load.
func (s *AllowListStore) Contains(addr string) bool {
	al := s.load()
	if al == nil {
		return false
	}
	return al.Contains(addr)
}

// ReloadMetrics returns reload statistics.
func (s *AllowListStore) ReloadMetrics() OperationMetrics {
	return s.monitor.metrics()
}
