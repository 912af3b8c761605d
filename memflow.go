// Package memflow provides a top-level convenience entry point for creating
// a tiered memory store with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/memflow"
//
//	m, err := memflow.New(memflow.DefaultConfig())
//	m, err := memflow.New(cfg, memflow.WithLogger(logger))
//
// This is a thin wrapper around [manager.New]; both produce identical
// results. Use this package when you prefer the shorter import path.
package memflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/manager"
	"github.com/BaSui01/memflow/types"
)

// Manager is the orchestration core; see [manager.Manager].
type Manager = manager.Manager

// Config is the full store configuration; see [config.Config].
type Config = config.Config

// MemoryItem is the unit of storage; see [types.MemoryItem].
type MemoryItem = types.MemoryItem

// Tier names re-exported for callers that never import types/.
const (
	TierSTM = types.TierSTM
	TierMTM = types.TierMTM
	TierLTM = types.TierLTM
)

// DefaultConfig returns a ready-to-run all-in-memory configuration.
func DefaultConfig() Config { return *config.DefaultConfig() }

// Option configures the manager created by [New].
type Option func(*manager.Options)

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *manager.Options) { o.Logger = logger }
}

// WithRegisterer routes Prometheus metrics to a custom registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *manager.Options) { o.Registerer = reg }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *manager.Options) { o.Now = now }
}

// New validates cfg and builds a manager. Call [Manager.Initialize] before
// use and [Manager.Shutdown] when done.
func New(cfg Config, opts ...Option) (*Manager, error) {
	var mo manager.Options
	for _, opt := range opts {
		opt(&mo)
	}
	return manager.New(cfg, mo)
}
