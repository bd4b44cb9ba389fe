package accesskit

import (
	"sync"
	"sync/atomic"
	"time"
)

// OperationMetrics provides duration and failure statistics for reloads and transactions.
type OperationMetrics struct {
	Total           int64         `json:"total"`
	Successful      int64         `json:"successful"`
	Failed          int64         `json:"failed"`
	AverageDuration time.Duration `json:"average_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	LastSuccess     time.Time     `json:"last_success,omitzero"`
	LastFailure     time.Time     `json:"last_failure,omitzero"`
	LastReset       time.Time     `json:"last_reset"`
}

// FailureRate returns Failed/Total, or 0 when nothing was recorded.
func (m OperationMetrics) FailureRate() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Failed) / float64(m.Total)
}

// opMonitor holds the internal monitoring state
type opMonitor struct {
	totalCount    int64
	successCount  int64
	failureCount  int64
	totalDuration int64 // nanoseconds
	maxDuration   int64 // nanoseconds
	minDuration   int64 // nanoseconds
	lastSuccess   time.Time
	lastFailure   time.Time
	lastReset     time.Time
	mu            sync.RWMutex
}

func newOpMonitor() *opMonitor {
	return &opMonitor{
		minDuration: int64(time.Hour), // Initialize to a large value
		lastReset:   time.Now(),
	}
}

// record records a completed operation with its duration and success status
func (m *opMonitor) record(duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	atomic.AddInt64(&m.totalCount, 1)
	atomic.AddInt64(&m.totalDuration, int64(duration))

	if success {
		atomic.AddInt64(&m.successCount, 1)
		m.lastSuccess = time.Now()
	} else {
		atomic.AddInt64(&m.failureCount, 1)
		m.lastFailure = time.Now()
	}

	durationNs := int64(duration)
	for {
		current := atomic.LoadInt64(&m.maxDuration)
		if durationNs <= current || atomic.CompareAndSwapInt64(&m.maxDuration, current, durationNs) {
			break
		}
	}
	for {
		current := atomic.LoadInt64(&m.minDuration)
		if durationNs >= current || atomic.CompareAndSwapInt64(&m.minDuration, current, durationNs) {
			break
		}
	}
}

func (m *opMonitor) metrics() OperationMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := atomic.LoadInt64(&m.totalCount)
	totalDur := atomic.LoadInt64(&m.totalDuration)
	minDur := atomic.LoadInt64(&m.minDuration)

	var avgDuration time.Duration
	if total > 0 {
		avgDuration = time.Duration(totalDur / total)
	} else {
		minDur = 0
	}

	return OperationMetrics{
		Total:           total,
		Successful:      atomic.LoadInt64(&m.successCount),
		Failed:          atomic.LoadInt64(&m.failureCount),
		AverageDuration: avgDuration,
		MaxDuration:     time.Duration(atomic.LoadInt64(&m.maxDuration)),
		MinDuration:     time.Duration(minDur),
		LastSuccess:     m.lastSuccess,
		LastFailure:     m.lastFailure,
		LastReset:       m.lastReset,
	}
}

func (m *opMonitor) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	atomic.StoreInt64(&m.totalCount, 0)
	atomic.StoreInt64(&m.successCount, 0)
	atomic.StoreInt64(&m.failureCount, 0)
	atomic.StoreInt64(&m.totalDuration, 0)
	atomic.StoreInt64(&m.maxDuration, 0)
	atomic.StoreInt64(&m.minDuration, int64(time.Hour))
	m.lastSuccess = time.Time{}
	m.lastFailure = time.Time{}
	m.lastReset = time.Now()
}
