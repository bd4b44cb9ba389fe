package accesskit

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

// ReloadService reloads a Reloader on a fixed interval. It implements
// suture.Service. Consecutive failures open a circuit breaker, and while
// it is open reloads are skipped so a broken source is not hammered; the
// previous snapshots keep serving decisions.
type ReloadService struct {
	target   Reloader
	interval time.Duration
	breaker  *gobreaker.CircuitBreaker[struct{}]
	logger   *zap.Logger
}

// NewReloadService creates a ReloadService for target.
func NewReloadService(target Reloader, cfg ReloadConfig, logger *zap.Logger) *ReloadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 3
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	s := &ReloadService{
		target:   target,
		interval: cfg.Interval,
		logger:   logger.With(zap.String("service", "reloader")),
	}
	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "accesskit-reload",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("reload circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})
	return s
}

// Serve implements suture.Service.
func (s *ReloadService) Serve(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("periodic reload disabled")
		return suture.ErrDoNotRestart
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// Failures are logged by the stores and counted by the breaker.
			_ = s.ReloadOnce(ctx)
		}
	}
}

// ReloadOnce reloads through the circuit breaker. While the breaker is open
// it returns gobreaker.ErrOpenState without calling the target.
func (s *ReloadService) ReloadOnce(ctx context.Context) error {
	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.target.Reload(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		s.logger.Debug("reload skipped, circuit open")
	}
	return err
}

// State returns the breaker state: "closed", "half-open" or "open".
func (s *ReloadService) State() string {
	return s.breaker.State().String()
}

// String implements fmt.Stringer for suture logs.
func (s *ReloadService) String() string {
	return "reloader"
}
