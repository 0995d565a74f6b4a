package retrieval

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/config"
	"github.com/crisref/harvest-core/internal/harvester"
	"github.com/crisref/harvest-core/internal/metrics"
	"github.com/crisref/harvest-core/internal/store"
)

// Factory builds one retrieval service per inbound message. Harvesters
// are instantiated once at startup, in registry configuration order,
// and shared between services: adapters hold no per-retrieval state.
type Factory struct {
	store      *store.Store
	harvesters []harvester.Harvester
	archiver   RecordArchiver
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewFactory instantiates every enabled harvester up front so that
// unknown names or invalid versions fail at startup, not per message.
func NewFactory(cfg *config.Config, registry *harvester.Registry, deps harvester.Deps,
	archiver RecordArchiver, m *metrics.Metrics, logger *zap.Logger) (*Factory, error) {
	harvesters, err := registry.Build(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("building harvesters: %w", err)
	}
	return &Factory{
		store:      deps.Store,
		harvesters: harvesters,
		archiver:   archiver,
		metrics:    m,
		logger:     logger,
	}, nil
}

// NewService builds a retrieval service for one inbound message. The
// harvesters option restricts the configured set; unknown names in the
// restriction are rejected.
func (f *Factory) NewService(opts Options) (*Service, error) {
	for _, name := range opts.Harvesters {
		if !f.knownHarvester(name) {
			return nil, fmt.Errorf("unknown harvester requested: %s", name)
		}
	}
	return NewService(f.store, f.harvesters, f.archiver, f.metrics, f.logger, opts), nil
}

func (f *Factory) knownHarvester(name string) bool {
	for _, h := range f.harvesters {
		if h.Name() == name {
			return true
		}
	}
	return false
}
