// Package pipeline assembles the four stages into one running system.
package pipeline

import (
	"context"
	"fmt"

	"github.com/lucid-vigil/secops/pkg/analytics"
	"github.com/lucid-vigil/secops/pkg/config"
	perrors "github.com/lucid-vigil/secops/pkg/errors"
	"github.com/lucid-vigil/secops/pkg/ingestion"
	"github.com/lucid-vigil/secops/pkg/orchestration"
	"github.com/lucid-vigil/secops/pkg/processing"
	"github.com/lucid-vigil/secops/pkg/simulate"
	"github.com/lucid-vigil/secops/pkg/store"
	"github.com/lucid-vigil/secops/pkg/types"
	"github.com/rs/zerolog"
)

// Pipeline owns the stages. Each stage is wired to its upstream exactly
// once, in New.
type Pipeline struct {
	Ingestion     *ingestion.Stage
	Processing    *processing.Stage
	Analytics     *analytics.Stage
	Orchestration *orchestration.Stage

	cfg    *config.Config
	stats  *perrors.StatsCollector
	logger zerolog.Logger
}

type options struct {
	store          *store.Store
	rng            *simulate.Source
	fetchers       map[types.SourceType]ingestion.Fetcher
	defaultFetcher ingestion.Fetcher
	definitions    *orchestration.Definitions
}

// Option configures a Pipeline.
type Option func(*options)

// WithStore persists analytics output and every change to sources,
// anomaly verdicts and incidents.
func WithStore(s *store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithRand seeds every simulated strategy.
func WithRand(rng *simulate.Source) Option {
	return func(o *options) { o.rng = rng }
}

// WithFetcher binds a fetcher to one source type.
func WithFetcher(t types.SourceType, f ingestion.Fetcher) Option {
	return func(o *options) { o.fetchers[t] = f }
}

// WithDefaultFetcher replaces the simulated fetcher built from config.
func WithDefaultFetcher(f ingestion.Fetcher) Option {
	return func(o *options) { o.defaultFetcher = f }
}

// WithDefinitions overrides both the built-in and the configured playbooks.
func WithDefinitions(d orchestration.Definitions) Option {
	return func(o *options) { o.definitions = &d }
}

// New builds the stages bottom-up from cfg and subscribes each to its
// upstream.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Pipeline, error) {
	o := &options{fetchers: make(map[types.SourceType]ingestion.Fetcher)}
	for _, opt := range opts {
		opt(o)
	}
	if o.rng == nil {
		o.rng = simulate.NewRandom()
	}

	defs := o.definitions
	if defs == nil && cfg.Orchestration.DefinitionsPath != "" {
		loaded, err := orchestration.LoadDefinitions(cfg.Orchestration.DefinitionsPath)
		if err != nil {
			return nil, fmt.Errorf("loading playbook definitions: %w", err)
		}
		defs = &loaded
	}

	stats := perrors.NewStatsCollector()
	eh := perrors.NewErrorHandler(logger, stats)

	defaultFetcher := o.defaultFetcher
	if defaultFetcher == nil {
		defaultFetcher = ingestion.NewSimulatedFetcher(o.rng,
			cfg.Ingestion.MaxFetchDelay, cfg.Ingestion.FailureRate, cfg.Ingestion.MaxBatchSize)
	}
	ingestOpts := []ingestion.Option{
		ingestion.WithCapacity(cfg.Ingestion.BufferCapacity),
		ingestion.WithDefaultFetcher(defaultFetcher),
		ingestion.WithDedupWindow(cfg.Ingestion.DedupWindow),
		ingestion.WithErrorHandler(eh),
	}
	for t, f := range o.fetchers {
		ingestOpts = append(ingestOpts, ingestion.WithFetcher(t, f))
	}
	ingest := ingestion.New(logger, ingestOpts...)

	proc := processing.New(ingest, logger, processing.WithErrorHandler(eh))

	an := analytics.New(logger,
		analytics.WithRand(o.rng),
		analytics.WithAnomalyRate(cfg.Analytics.AnomalyRate),
		analytics.WithComplianceRate(cfg.Analytics.ComplianceRate),
		analytics.WithErrorHandler(eh),
	)

	containment := orchestration.NewContainment()
	dispatcher := orchestration.NewActionDispatcher(
		cfg.Orchestration.ActionsEnabled,
		orchestration.NewSimulatedExecutor(o.rng, cfg.Orchestration.ActionSuccessRate),
		containment,
		logger,
		orchestration.WithRateLimit(cfg.Orchestration.ActionRateLimit, cfg.Orchestration.ActionBurst),
	)
	orchOpts := []orchestration.Option{
		orchestration.WithRand(o.rng),
		orchestration.WithContainment(containment),
		orchestration.WithExecutor(dispatcher),
		orchestration.WithConditionRate(cfg.Orchestration.ConditionRate),
		orchestration.WithErrorHandler(eh),
	}
	if defs != nil {
		orchOpts = append(orchOpts, orchestration.WithDefinitions(*defs))
	}
	orch := orchestration.New(logger, orchOpts...)

	ingest.SubscribeHandler(proc.HandleBatch)
	proc.SubscribeHandler(an.HandleBatch)
	an.SubscribeHandler(orch.HandleResult)

	p := &Pipeline{
		Ingestion:     ingest,
		Processing:    proc,
		Analytics:     an,
		Orchestration: orch,
		cfg:           cfg,
		stats:         stats,
		logger:        logger.With().Str("component", "pipeline").Logger(),
	}

	if o.store != nil {
		sink := &persistenceSink{store: o.store}
		ingest.SubscribeSourceChanges(sink.persistSource)
		an.SubscribeHandler(sink.persistAnalytics)
		an.SubscribeAnomalyChanges(sink.persistAnomaly)
		orch.Incidents().SubscribeChanges(sink.persistIncident)
	}
	return p, nil
}

// Start registers every configured source. Active sources with a positive
// polling interval begin collecting immediately.
func (p *Pipeline) Start(ctx context.Context) error {
	for _, sc := range p.cfg.Sources {
		src := SourceFromConfig(sc)
		if err := p.Ingestion.Register(ctx, src); err != nil {
			return fmt.Errorf("registering source %s: %w", sc.ID, err)
		}
	}
	p.logger.Info().Int("sources", len(p.cfg.Sources)).Msg("Pipeline started")
	return nil
}

// Stop halts every collection task. In-flight batches finish first.
func (p *Pipeline) Stop() {
	p.Ingestion.Close()
	p.logger.Info().Msg("Pipeline stopped")
}

// ErrorStats reports the failures the stages have handled so far.
func (p *Pipeline) ErrorStats() perrors.ErrorStats {
	return p.stats.GetErrorStats()
}

// SourceFromConfig converts a configured source into a DataSource. An
// unset status means active.
func SourceFromConfig(sc config.SourceConfig) types.DataSource {
	status := types.SourceStatus(sc.Status)
	if status == "" {
		status = types.SourceActive
	}
	return types.DataSource{
		ID:              sc.ID,
		Name:            sc.Name,
		Type:            types.SourceType(sc.Type),
		Environment:     types.Environment(sc.Environment),
		Connection:      sc.Connection,
		Status:          status,
		PollingInterval: sc.PollingInterval,
	}
}
