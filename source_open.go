package accesskit

import (
	"context"
	"errors"
	"fmt"

	"github.com/fernandezvara/dbkit"
	"go.uber.org/zap"
)

// SourceHandle is an opened Source plus what must be closed with it.
type SourceHandle struct {
	Source Source

	// Service is set for the database source.
	Service *Service

	// Redis is set for the redis source.
	Redis *RedisSource

	closers []func() error
}

// Close releases connections held by the source.
func (h *SourceHandle) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i]())
	}
	return errors.Join(errs...)
}

// OpenSource opens the source selected by cfg.Source.Kind.
func OpenSource(ctx context.Context, cfg *Config, logger *zap.Logger) (*SourceHandle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Source.Kind {
	case SourceStatic, "":
		return &SourceHandle{Source: DefaultRuleSet().Source()}, nil

	case SourceFile:
		return &SourceHandle{Source: NewFileSource(cfg.Source.File)}, nil

	case SourceRedis:
		rs, err := DialRedis(ctx, cfg.Source.Redis)
		if err != nil {
			return nil, err
		}
		return &SourceHandle{Source: rs, Redis: rs, closers: []func() error{rs.Close}}, nil

	case SourceDatabase:
		db, err := dbkit.New(dbkit.Config{URL: cfg.Source.DatabaseURL})
		if err != nil {
			return nil, fmt.Errorf("%w: database: %w", ErrSourceUnavailable, err)
		}
		svc := NewService(db, WithServiceLogger(logger))
		if err := NewPoolService(svc).ConfigureConnectionPool(cfg.Database); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &SourceHandle{Source: svc, Service: svc, closers: []func() error{db.Close}}, nil

	default:
		return nil, NewError(ErrInvalidConfig, fmt.Sprintf("unknown source kind %q", cfg.Source.Kind))
	}
}
