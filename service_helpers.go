package accesskit

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/fernandezvara/dbkit"
	"go.uber.org/zap"
)

// ============================================================================
// INTERNAL HELPERS
// ============================================================================

func (s *Service) logAudit(ctx context.Context, entry *AuditEntry) error {
	_, err := s.db.NewInsert().Model(entry.ToModel()).Exec(ctx)
	return dbkit.WithErr1(err, "LogAudit").Err()
}

// audit records a change; failures are logged and never fail the change.
func (s *Service) audit(ctx context.Context, action AuditAction, subject, target string, roles []string, metadata map[string]any) {
	audit := GetAuditContext(ctx)
	entry := &AuditEntry{
		ActorID:   audit.ActorID,
		Action:    action,
		Subject:   subject,
		Target:    target,
		Roles:     roles,
		IPAddress: audit.IPAddress,
		UserAgent: audit.UserAgent,
		RequestID: audit.RequestID,
		Metadata:  metadata,
	}
	if err := s.logAudit(ctx, entry); err != nil {
		s.logger.Warn("audit log write failed",
			zap.String("subject", subject),
			zap.String("target", target),
			zap.Error(err))
	}
}

// WithRetry runs op with exponential backoff for transient database errors.
func (s *Service) WithRetry(ctx context.Context, maxAttempts int, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		// Don't retry on non-transient errors
		if !isTransientError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
		jitter := time.Duration(float64(backoff) * 0.1 * (0.5 + rand.Float64()))
		s.logger.Warn("transient database error, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff+jitter),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}

	return lastErr
}

// isTransientError checks if an error is transient and can be retried
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	// Caller gave up; retrying cannot help
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	// PostgreSQL transient errors
	transientErrors := []string{
		"connection",
		"timeout",
		"deadlock",
		"could not serialize",
		"lock wait timeout",
		"broken pipe",
		"temporary failure",
		"try again",
		"resource temporarily unavailable",
	}

	for _, transientErr := range transientErrors {
		if strings.Contains(errStr, transientErr) {
			return true
		}
	}

	return false
}
