package assetcache

import (
	"errors"
	"log/slog"

	"github.com/meigma/assetcache/event"
	"github.com/meigma/assetcache/index"
)

// Option configures a Service.
type Option func(*Service) error

// WithLogger sets the logger. Components log through children of it.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithBus shares an existing event bus instead of creating one.
func WithBus(bus *event.Bus) Option {
	return func(s *Service) error {
		s.bus = bus
		return nil
	}
}

// WithStore uses store instead of opening the configured engine. The
// caller keeps ownership; Close does not close it.
func WithStore(store index.Store) Option {
	return func(s *Service) error {
		if store == nil {
			return errors.New("index store is nil")
		}
		s.store = store
		return nil
	}
}

// WithWorkers sets the scanner pool size.
func WithWorkers(n int) Option {
	return func(s *Service) error {
		if n < 1 {
			return errors.New("workers must be >= 1")
		}
		s.workers = n
		return nil
	}
}
