// Package analytics scores risk, flags anomalies and assesses compliance for
// every processed batch.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	perrors "github.com/lucid-vigil/secops/pkg/errors"
	"github.com/lucid-vigil/secops/pkg/events"
	"github.com/lucid-vigil/secops/pkg/metrics"
	"github.com/lucid-vigil/secops/pkg/simulate"
	"github.com/lucid-vigil/secops/pkg/strategy"
	"github.com/lucid-vigil/secops/pkg/types"
	"github.com/rs/zerolog"
)

const stageName = "analytics"

// TrendThreshold is the score change needed to call a trend.
const TrendThreshold = 5

// Stage is the analytics stage.
type Stage struct {
	riskEngines *strategy.Registry[RiskEngine]
	detectors   *strategy.Registry[AnomalyDetector]
	monitors    *strategy.Registry[ComplianceMonitor]

	riskScores   map[string]types.RiskScore
	riskOrder    []string
	lastOverall  map[types.Environment]int
	anomalies    map[string]*types.Anomaly
	anomalyOrder []string
	compliance   map[string]types.ComplianceResult
	mu           sync.RWMutex

	rng            *simulate.Source
	anomalyRate    float64
	complianceRate float64
	builtins       bool

	hub          *events.Hub[types.AnalyticsResult]
	changes      *events.Hub[types.Anomaly]
	errorHandler *perrors.ErrorHandler
	logger       zerolog.Logger
}

// Option configures a Stage.
type Option func(*Stage)

// WithRand seeds the built-in simulated strategies.
func WithRand(rng *simulate.Source) Option {
	return func(s *Stage) { s.rng = rng }
}

// WithAnomalyRate sets the per-record anomaly probability of the built-in detector.
func WithAnomalyRate(p float64) Option {
	return func(s *Stage) { s.anomalyRate = p }
}

// WithComplianceRate sets the per-batch assessment probability of the built-in monitor.
func WithComplianceRate(p float64) Option {
	return func(s *Stage) { s.complianceRate = p }
}

// WithErrorHandler routes subscriber failures through eh.
func WithErrorHandler(eh *perrors.ErrorHandler) Option {
	return func(s *Stage) { s.errorHandler = eh }
}

// WithoutBuiltins leaves the strategy registries empty.
func WithoutBuiltins() Option {
	return func(s *Stage) { s.builtins = false }
}

// New creates an analytics stage with the default, IT, OT and Cloud
// strategies registered.
func New(logger zerolog.Logger, opts ...Option) *Stage {
	s := &Stage{
		riskEngines:    strategy.NewRegistry[RiskEngine](),
		detectors:      strategy.NewRegistry[AnomalyDetector](),
		monitors:       strategy.NewRegistry[ComplianceMonitor](),
		riskScores:     make(map[string]types.RiskScore),
		lastOverall:    make(map[types.Environment]int),
		anomalies:      make(map[string]*types.Anomaly),
		compliance:     make(map[string]types.ComplianceResult),
		anomalyRate:    0.05,
		complianceRate: 0.10,
		builtins:       true,
		logger:         logger.With().Str("component", stageName).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = simulate.NewRandom()
	}

	if s.builtins {
		s.riskEngines.Register(strategy.Any(), NewDefaultRiskEngine(s.rng))
		s.riskEngines.Register(strategy.ForEnvironment(types.EnvironmentIT), NewITRiskEngine(s.rng))
		s.riskEngines.Register(strategy.ForEnvironment(types.EnvironmentOT), NewOTRiskEngine(s.rng))
		s.riskEngines.Register(strategy.ForEnvironment(types.EnvironmentCloud), NewCloudRiskEngine(s.rng))
		s.detectors.Register(strategy.Any(), NewSimulatedDetector(s.rng, s.anomalyRate))
		s.monitors.Register(strategy.Any(), NewSimulatedComplianceMonitor(s.rng, s.complianceRate))
	}

	hubOpts := []events.HubOption[types.AnalyticsResult]{
		events.WithFailureHook[types.AnalyticsResult](metrics.SubscriberFailure),
	}
	if s.errorHandler != nil {
		hubOpts = append(hubOpts, events.WithErrorHandler[types.AnalyticsResult](s.errorHandler))
	}
	s.hub = events.NewHub[types.AnalyticsResult](stageName, logger, hubOpts...)

	changeOpts := []events.HubOption[types.Anomaly]{
		events.WithFailureHook[types.Anomaly](metrics.SubscriberFailure),
	}
	if s.errorHandler != nil {
		changeOpts = append(changeOpts, events.WithErrorHandler[types.Anomaly](s.errorHandler))
	}
	s.changes = events.NewHub[types.Anomaly]("anomalies", logger, changeOpts...)
	return s
}

// RegisterRiskEngine binds a risk engine to a match.
func (s *Stage) RegisterRiskEngine(m strategy.Match, e RiskEngine) {
	s.riskEngines.Register(m, e)
	s.logger.Debug().Str("key", m.Key()).Msg("Risk engine registered")
}

// RegisterAnomalyDetector binds a detector to a match.
func (s *Stage) RegisterAnomalyDetector(m strategy.Match, d AnomalyDetector) {
	s.detectors.Register(m, d)
	s.logger.Debug().Str("key", m.Key()).Msg("Anomaly detector registered")
}

// RegisterComplianceMonitor binds a compliance monitor to a match.
func (s *Stage) RegisterComplianceMonitor(m strategy.Match, c ComplianceMonitor) {
	s.monitors.Register(m, c)
	s.logger.Debug().Str("key", m.Key()).Msg("Compliance monitor registered")
}

// Subscribe registers a callback for every analytics result.
func (s *Stage) Subscribe(fn func(types.AnalyticsResult)) {
	s.hub.Subscribe(fn)
}

// SubscribeHandler registers a context-aware result handler.
func (s *Stage) SubscribeHandler(h events.Handler[types.AnalyticsResult]) {
	s.hub.SubscribeHandler(h)
}

// SubscribeAnomalyChanges registers a handler for analyst status updates.
// Newly detected anomalies arrive through the result hub instead.
func (s *Stage) SubscribeAnomalyChanges(h events.Handler[types.Anomaly]) {
	s.changes.SubscribeHandler(h)
}

// HandleBatch is the processing subscription entry point.
func (s *Stage) HandleBatch(ctx context.Context, batch types.ProcessedBatch) error {
	s.hub.Publish(ctx, s.Analyze(ctx, batch))
	return nil
}

// Analyze runs the three analyses for a batch and updates the caches. A
// strategy that panics contributes nothing.
func (s *Stage) Analyze(ctx context.Context, batch types.ProcessedBatch) types.AnalyticsResult {
	start := time.Now()
	result := types.AnalyticsResult{
		SourceID:    batch.SourceID,
		Environment: batch.Environment,
		SourceType:  batch.SourceType,
		RiskScores:  []types.RiskScore{},
		Anomalies:   []types.Anomaly{},
		Compliance:  []types.ComplianceResult{},
	}

	s.guard("risk", func() { result.RiskScores = append(result.RiskScores, s.scoreRisk(ctx, batch)...) })
	s.guard("anomaly", func() { result.Anomalies = append(result.Anomalies, s.detect(ctx, batch)...) })
	s.guard("compliance", func() { result.Compliance = append(result.Compliance, s.checkCompliance(ctx, batch)...) })

	result.AnalyzedAt = time.Now().UTC()
	metrics.ObserveStage(stageName, time.Since(start))
	s.logger.Debug().
		Str("source_id", batch.SourceID).
		Int("risk_scores", len(result.RiskScores)).
		Int("anomalies", len(result.Anomalies)).
		Int("compliance", len(result.Compliance)).
		Msg("Batch analyzed")
	return result
}

func (s *Stage) guard(analysis string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("analysis", analysis).Interface("panic", r).Msg("Strategy panicked, analysis skipped")
		}
	}()
	fn()
}

// scoreRisk produces one score per environment present in the batch.
func (s *Stage) scoreRisk(ctx context.Context, batch types.ProcessedBatch) []types.RiskScore {
	groups := make(map[types.Environment][]types.NormalizedRecord)
	var envs []types.Environment
	for _, r := range batch.Records {
		env := r.Environment
		if env == "" {
			env = batch.Environment
		}
		if _, seen := groups[env]; !seen {
			envs = append(envs, env)
		}
		groups[env] = append(groups[env], r)
	}

	var out []types.RiskScore
	for _, env := range envs {
		engine, ok := s.riskEngines.Resolve(env, batch.SourceType)
		if !ok {
			continue
		}
		factors := engine.Factors(ctx, env, groups[env])
		overall := engine.Weights().Overall(factors)

		s.mu.Lock()
		trend := types.TrendStable
		if prev, ok := s.lastOverall[env]; ok {
			switch {
			case overall-prev > TrendThreshold:
				trend = types.TrendIncreasing
			case prev-overall > TrendThreshold:
				trend = types.TrendDecreasing
			}
		}
		score := types.RiskScore{
			ID:           uuid.New().String(),
			Environment:  env,
			Overall:      overall,
			Factors:      factors,
			Trend:        trend,
			CalculatedAt: time.Now().UTC(),
		}
		s.lastOverall[env] = overall
		s.riskScores[score.ID] = score
		s.riskOrder = append(s.riskOrder, score.ID)
		s.mu.Unlock()

		metrics.SetRiskScore(string(env), overall)
		out = append(out, score)
	}
	return out
}

func (s *Stage) detect(ctx context.Context, batch types.ProcessedBatch) []types.Anomaly {
	detector, ok := s.detectors.Resolve(batch.Environment, batch.SourceType)
	if !ok {
		return nil
	}
	found := detector.Detect(ctx, batch)

	s.mu.Lock()
	for i := range found {
		if prev, exists := s.anomalies[found[i].ID]; exists {
			found[i].Status = prev.Status
		} else {
			s.anomalyOrder = append(s.anomalyOrder, found[i].ID)
		}
		a := found[i]
		s.anomalies[a.ID] = &a
	}
	s.mu.Unlock()

	for _, a := range found {
		metrics.ObserveAnomaly(string(a.Severity))
		s.logger.Info().
			Str("anomaly_id", a.ID).
			Str("source_id", a.SourceID).
			Str("type", string(a.Type)).
			Str("severity", string(a.Severity)).
			Int("confidence", a.Confidence).
			Msg("Anomaly detected")
	}
	return found
}

func (s *Stage) checkCompliance(ctx context.Context, batch types.ProcessedBatch) []types.ComplianceResult {
	monitor, ok := s.monitors.Resolve(batch.Environment, batch.SourceType)
	if !ok {
		return nil
	}
	results := monitor.Check(ctx, batch)

	s.mu.Lock()
	for _, r := range results {
		if r.Control != nil {
			s.compliance[r.Control.ID] = r
		}
	}
	s.mu.Unlock()
	return results
}

// RiskScores returns every calculated score in calculation order.
func (s *Stage) RiskScores() []types.RiskScore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.RiskScore, 0, len(s.riskOrder))
	for _, id := range s.riskOrder {
		out = append(out, s.riskScores[id])
	}
	return out
}

// LatestRiskScore returns the most recent score of an environment.
func (s *Stage) LatestRiskScore(env types.Environment) (types.RiskScore, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.riskOrder) - 1; i >= 0; i-- {
		if score := s.riskScores[s.riskOrder[i]]; score.Environment == env {
			return score, true
		}
	}
	return types.RiskScore{}, false
}

// Anomalies returns every detected anomaly in detection order.
func (s *Stage) Anomalies() []types.Anomaly {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Anomaly, 0, len(s.anomalyOrder))
	for _, id := range s.anomalyOrder {
		out = append(out, *s.anomalies[id])
	}
	return out
}

// Anomaly returns one anomaly by id.
func (s *Stage) Anomaly(id string) (types.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.anomalies[id]
	if !ok {
		return types.Anomaly{}, perrors.NewNotFoundError(stageName, "anomaly", id)
	}
	return *a, nil
}

// UpdateAnomalyStatus records an analyst verdict on an anomaly. A later
// redelivery of the same anomaly keeps the verdict.
func (s *Stage) UpdateAnomalyStatus(id string, status types.AnomalyStatus) error {
	if !status.Valid() {
		return fmt.Errorf("anomaly status %q: %w", status, perrors.ErrInvalid)
	}
	s.mu.Lock()
	a, ok := s.anomalies[id]
	if !ok {
		s.mu.Unlock()
		return perrors.NewNotFoundError(stageName, "anomaly", id)
	}
	a.Status = status
	changed := *a
	s.mu.Unlock()

	s.logger.Info().Str("anomaly_id", id).Str("status", string(status)).Msg("Anomaly status updated")
	s.changes.Publish(context.Background(), changed)
	return nil
}

// ComplianceStatus returns the latest verdict per control, ordered by control id.
func (s *Stage) ComplianceStatus() []types.ComplianceResult {
	s.mu.RLock()
	out := make([]types.ComplianceResult, 0, len(s.compliance))
	for _, r := range s.compliance {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Control.ID < out[j].Control.ID })
	return out
}
