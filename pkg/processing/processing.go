// Package processing normalizes ingested records into the canonical shape
// and runs the registered enrichers over them.
package processing

import (
	"context"
	"fmt"
	"sync"
	"time"

	perrors "github.com/lucid-vigil/secops/pkg/errors"
	"github.com/lucid-vigil/secops/pkg/events"
	"github.com/lucid-vigil/secops/pkg/metrics"
	"github.com/lucid-vigil/secops/pkg/strategy"
	"github.com/lucid-vigil/secops/pkg/types"
	"github.com/rs/zerolog"
)

const stageName = "processing"

// SourceResolver tells the environment and type of a source id.
type SourceResolver interface {
	Lookup(id string) (types.Environment, types.SourceType, bool)
}

// Stage is the processing stage.
type Stage struct {
	resolver    SourceResolver
	normalizers *strategy.Registry[Normalizer]
	enrichers   []Enricher
	mu          sync.RWMutex

	hub          *events.Hub[types.ProcessedBatch]
	errorHandler *perrors.ErrorHandler
	logger       zerolog.Logger
}

// Option configures a Stage.
type Option func(*Stage)

// WithErrorHandler routes lookup failures and subscriber failures through eh.
func WithErrorHandler(eh *perrors.ErrorHandler) Option {
	return func(s *Stage) { s.errorHandler = eh }
}

// WithoutBuiltins skips registering the built-in normalizers and enrichers.
func WithoutBuiltins() Option {
	return func(s *Stage) {
		s.normalizers = strategy.NewRegistry[Normalizer]()
		s.enrichers = nil
	}
}

// New creates a processing stage with the built-in normalizers and
// enrichers registered.
func New(resolver SourceResolver, logger zerolog.Logger, opts ...Option) *Stage {
	s := &Stage{
		resolver:    resolver,
		normalizers: strategy.NewRegistry[Normalizer](),
		logger:      logger.With().Str("component", stageName).Logger(),
	}
	s.normalizers.Register(strategy.Any(), DefaultNormalizer)
	s.normalizers.Register(strategy.ForSource(types.EnvironmentIT, types.SourceFirewall), FirewallNormalizer)
	s.normalizers.Register(strategy.ForSource(types.EnvironmentIT, types.SourceIDS), FirewallNormalizer)
	s.normalizers.Register(strategy.ForEnvironment(types.EnvironmentOT), OTNormalizer)
	s.normalizers.Register(strategy.ForEnvironment(types.EnvironmentCloud), CloudNormalizer)
	s.enrichers = []Enricher{GeoEnricher{}, AssetContextEnricher{}, OTProtocolEnricher{}}

	for _, opt := range opts {
		opt(s)
	}

	hubOpts := []events.HubOption[types.ProcessedBatch]{
		events.WithFailureHook[types.ProcessedBatch](metrics.SubscriberFailure),
	}
	if s.errorHandler != nil {
		hubOpts = append(hubOpts, events.WithErrorHandler[types.ProcessedBatch](s.errorHandler))
	}
	s.hub = events.NewHub[types.ProcessedBatch](stageName, logger, hubOpts...)
	return s
}

// RegisterNormalizer binds a normalizer to a match, replacing any previous one.
func (s *Stage) RegisterNormalizer(m strategy.Match, n Normalizer) {
	s.normalizers.Register(m, n)
	s.logger.Debug().Str("key", m.Key()).Msg("Normalizer registered")
}

// RegisterEnricher appends an enricher; enrichers run in registration order.
func (s *Stage) RegisterEnricher(e Enricher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrichers = append(s.enrichers, e)
	s.logger.Debug().Str("enricher", e.Name()).Msg("Enricher registered")
}

// Subscribe registers a callback for every processed batch.
func (s *Stage) Subscribe(fn func(types.ProcessedBatch)) {
	s.hub.Subscribe(fn)
}

// SubscribeHandler registers a context-aware batch handler.
func (s *Stage) SubscribeHandler(h events.Handler[types.ProcessedBatch]) {
	s.hub.SubscribeHandler(h)
}

// HandleBatch is the ingestion subscription entry point.
func (s *Stage) HandleBatch(ctx context.Context, batch types.IngestionBatch) error {
	processed, err := s.Process(ctx, batch)
	if err != nil {
		return err
	}
	s.hub.Publish(ctx, processed)
	return nil
}

// Process normalizes and enriches one batch without publishing it.
func (s *Stage) Process(ctx context.Context, batch types.IngestionBatch) (types.ProcessedBatch, error) {
	start := time.Now()

	env, st, ok := s.resolver.Lookup(batch.SourceID)
	if !ok {
		pe := perrors.NewNotFoundError(stageName, "source", batch.SourceID)
		s.report(ctx, pe)
		return types.ProcessedBatch{}, pe
	}

	normalizer, ok := s.normalizers.Resolve(env, st)
	if !ok {
		normalizer = DefaultNormalizer
	}

	records := make([]types.NormalizedRecord, 0, len(batch.Records))
	for _, raw := range batch.Records {
		rec, err := normalizer.Normalize(raw, env, st)
		if err != nil {
			s.logger.Warn().Err(err).Str("record_id", raw.ID).Str("source_id", batch.SourceID).Msg("Record dropped by normalizer")
			continue
		}
		records = append(records, rec)
	}
	normalized := len(records)

	s.mu.RLock()
	enrichers := make([]Enricher, len(s.enrichers))
	copy(enrichers, s.enrichers)
	s.mu.RUnlock()

	for _, e := range enrichers {
		if !e.CanEnrich(env, st) {
			continue
		}
		enriched, err := s.enrich(ctx, e, records)
		if err != nil {
			s.logger.Error().Err(err).Str("enricher", e.Name()).Str("source_id", batch.SourceID).Msg("Enricher failed, skipping")
			continue
		}
		records = enriched
	}

	out := types.ProcessedBatch{
		SourceID:        batch.SourceID,
		Environment:     env,
		SourceType:      st,
		Records:         records,
		OriginalCount:   len(batch.Records),
		NormalizedCount: normalized,
		EnrichedCount:   len(records),
		ProcessedAt:     time.Now().UTC(),
	}

	metrics.ObserveProcessed(string(env), normalized)
	metrics.ObserveStage(stageName, time.Since(start))
	s.logger.Debug().
		Str("source_id", batch.SourceID).
		Int("original", out.OriginalCount).
		Int("normalized", out.NormalizedCount).
		Int("enriched", out.EnrichedCount).
		Msg("Batch processed")
	return out, nil
}

// enrich runs one enricher, turning panics and record-count changes into
// errors so the previous records are kept.
func (s *Stage) enrich(ctx context.Context, e Enricher, records []types.NormalizedRecord) (out []types.NormalizedRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("enricher panic: %v", r)
		}
	}()

	out, err = e.Enrich(ctx, records)
	if err != nil {
		return nil, err
	}
	if len(out) != len(records) {
		return nil, fmt.Errorf("enricher returned %d records for %d", len(out), len(records))
	}
	return out, nil
}

func (s *Stage) report(ctx context.Context, pe *perrors.PipelineError) {
	if s.errorHandler != nil {
		_ = s.errorHandler.HandleError(ctx, pe)
		return
	}
	s.logger.Warn().Err(pe).Msg("Batch dropped")
}
