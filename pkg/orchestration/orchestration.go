// Package orchestration reacts to analytics output: it runs matching
// playbooks and policies through the action dispatcher and keeps the
// incident registry.
package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	perrors "github.com/lucid-vigil/secops/pkg/errors"
	"github.com/lucid-vigil/secops/pkg/events"
	"github.com/lucid-vigil/secops/pkg/metrics"
	"github.com/lucid-vigil/secops/pkg/simulate"
	"github.com/lucid-vigil/secops/pkg/types"
	"github.com/rs/zerolog"
)

const stageName = "orchestration"

// Stage is the orchestration stage.
type Stage struct {
	playbooks []types.Playbook
	policies  []types.Policy
	mu        sync.RWMutex

	executor    ActionExecutor
	conditions  ConditionEvaluator
	incidents   *IncidentStore
	containment *Containment

	rng           *simulate.Source
	conditionRate float64

	hub          *events.Hub[types.OrchestrationResult]
	errorHandler *perrors.ErrorHandler
	logger       zerolog.Logger
}

// Option configures a Stage.
type Option func(*Stage)

// WithExecutor replaces the action executor, typically with an ActionDispatcher.
func WithExecutor(e ActionExecutor) Option {
	return func(s *Stage) { s.executor = e }
}

// WithConditionEvaluator replaces the policy rule evaluator.
func WithConditionEvaluator(c ConditionEvaluator) Option {
	return func(s *Stage) { s.conditions = c }
}

// WithConditionRate sets the firing probability of the default evaluator.
func WithConditionRate(p float64) Option {
	return func(s *Stage) { s.conditionRate = p }
}

// WithDefinitions replaces the built-in playbooks and policies.
func WithDefinitions(d Definitions) Option {
	return func(s *Stage) {
		s.playbooks = d.Playbooks
		s.policies = d.Policies
	}
}

// WithIncidentStore shares an incident store.
func WithIncidentStore(store *IncidentStore) Option {
	return func(s *Stage) { s.incidents = store }
}

// WithContainment shares the containment record used by the default dispatcher.
func WithContainment(c *Containment) Option {
	return func(s *Stage) { s.containment = c }
}

// WithRand seeds the default executor and evaluator.
func WithRand(rng *simulate.Source) Option {
	return func(s *Stage) { s.rng = rng }
}

// WithErrorHandler routes subscriber failures through eh.
func WithErrorHandler(eh *perrors.ErrorHandler) Option {
	return func(s *Stage) { s.errorHandler = eh }
}

// New creates an orchestration stage loaded with the built-in definitions.
// Without WithExecutor, actions run through an enabled dispatcher over a
// SimulatedExecutor with a 95% success rate.
func New(logger zerolog.Logger, opts ...Option) *Stage {
	defs := DefaultDefinitions()
	s := &Stage{
		playbooks:     defs.Playbooks,
		policies:      defs.Policies,
		conditionRate: 0.10,
		logger:        logger.With().Str("component", stageName).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.rng == nil {
		s.rng = simulate.NewRandom()
	}
	if s.incidents == nil {
		incOpts := []IncidentOption{IncidentLogger(logger)}
		if s.errorHandler != nil {
			incOpts = append(incOpts, IncidentErrorHandler(s.errorHandler))
		}
		s.incidents = NewIncidentStore(incOpts...)
	}
	if s.containment == nil {
		s.containment = NewContainment()
	}
	if s.executor == nil {
		s.executor = NewActionDispatcher(true, NewSimulatedExecutor(s.rng, 0.95), s.containment, logger)
	}
	if s.conditions == nil {
		s.conditions = RandomCondition{Rand: s.rng, Rate: s.conditionRate}
	}

	hubOpts := []events.HubOption[types.OrchestrationResult]{
		events.WithFailureHook[types.OrchestrationResult](metrics.SubscriberFailure),
	}
	if s.errorHandler != nil {
		hubOpts = append(hubOpts, events.WithErrorHandler[types.OrchestrationResult](s.errorHandler))
	}
	s.hub = events.NewHub[types.OrchestrationResult](stageName, logger, hubOpts...)
	return s
}

// Subscribe registers a callback for every execution result.
func (s *Stage) Subscribe(fn func(types.OrchestrationResult)) {
	s.hub.Subscribe(fn)
}

// SubscribeHandler registers a context-aware execution result handler.
func (s *Stage) SubscribeHandler(h events.Handler[types.OrchestrationResult]) {
	s.hub.SubscribeHandler(h)
}

// Incidents exposes the incident registry.
func (s *Stage) Incidents() *IncidentStore {
	return s.incidents
}

// Containment exposes the hosts and addresses contained so far.
func (s *Stage) Containment() *Containment {
	return s.containment
}

// SetDefinitions swaps the playbooks and policies in use.
func (s *Stage) SetDefinitions(d Definitions) {
	s.mu.Lock()
	s.playbooks = d.Playbooks
	s.policies = d.Policies
	s.mu.Unlock()
	s.logger.Info().Int("playbooks", len(d.Playbooks)).Int("policies", len(d.Policies)).Msg("Definitions loaded")
}

// Definitions returns the playbooks and policies in use.
func (s *Stage) Definitions() Definitions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Definitions{
		Playbooks: append([]types.Playbook(nil), s.playbooks...),
		Policies:  append([]types.Policy(nil), s.policies...),
	}
}

// HandleResult is the analytics subscription entry point.
func (s *Stage) HandleResult(ctx context.Context, result types.AnalyticsResult) error {
	for _, r := range s.Orchestrate(ctx, result) {
		s.hub.Publish(ctx, r)
	}
	return nil
}

// Orchestrate runs every playbook and policy the result calls for and
// returns one OrchestrationResult per execution.
func (s *Stage) Orchestrate(ctx context.Context, result types.AnalyticsResult) []types.OrchestrationResult {
	start := time.Now()
	defs := s.Definitions()
	var out []types.OrchestrationResult

	for _, anomaly := range result.Anomalies {
		if !anomaly.Severity.Urgent() {
			continue
		}
		pb, ok := firstAnomalyPlaybook(defs.Playbooks, anomaly)
		if !ok {
			s.logger.Debug().Str("anomaly_id", anomaly.ID).Msg("No playbook matches anomaly")
			continue
		}
		out = append(out, s.respondToAnomaly(ctx, pb, anomaly, result))
	}

	for _, finding := range result.Compliance {
		if finding.Status != types.NonCompliant || finding.Control == nil {
			continue
		}
		pb, ok := firstCompliancePlaybook(defs.Playbooks, finding.Control.Framework)
		if !ok {
			continue
		}
		out = append(out, s.runPlaybook(ctx, pb, map[string]interface{}{
			"control_id":  finding.Control.ID,
			"framework":   finding.Control.Framework,
			"environment": string(result.Environment),
			"source_id":   result.SourceID,
		}))
	}

	for _, policy := range defs.Policies {
		if !policy.Active || !policy.AppliesTo(result.Environment) {
			continue
		}
		for _, rule := range policy.Rules {
			if !rule.Active || !s.conditions.Evaluate(ctx, policy, rule, result) {
				continue
			}
			out = append(out, s.enforce(ctx, policy, rule, result))
		}
	}

	metrics.ObserveStage(stageName, time.Since(start))
	return out
}

func firstAnomalyPlaybook(playbooks []types.Playbook, a types.Anomaly) (types.Playbook, bool) {
	for _, pb := range playbooks {
		if pb.Active && pb.MatchesAnomaly(a) {
			return pb, true
		}
	}
	return types.Playbook{}, false
}

func firstCompliancePlaybook(playbooks []types.Playbook, framework string) (types.Playbook, bool) {
	for _, pb := range playbooks {
		if pb.Active && pb.MatchesFramework(framework) {
			return pb, true
		}
	}
	return types.Playbook{}, false
}

func (s *Stage) respondToAnomaly(ctx context.Context, pb types.Playbook, a types.Anomaly, result types.AnalyticsResult) types.OrchestrationResult {
	run := s.runPlaybook(ctx, pb, map[string]interface{}{
		"anomaly_id":   a.ID,
		"anomaly_type": string(a.Type),
		"severity":     string(a.Severity),
		"asset_id":     a.AssetID,
		"source_id":    a.SourceID,
		"environment":  string(result.Environment),
	})

	inc, created := s.incidents.LookupOrCreate(a, func() types.Incident {
		var assets []string
		if a.AssetID != "" {
			assets = []string{a.AssetID}
		}
		return types.Incident{
			Title:            fmt.Sprintf("%s: %s anomaly", pb.Name, a.Type),
			Description:      a.Description,
			Severity:         a.Severity,
			AffectedAssets:   assets,
			RelatedAnomalies: []string{a.ID},
		}
	})
	if created {
		metrics.IncidentOpened()
		s.logger.Info().
			Str("incident_id", inc.ID).
			Str("anomaly_id", a.ID).
			Str("severity", string(a.Severity)).
			Msg("Incident opened")
	}

	outcome := "succeeded"
	if !run.Success {
		outcome = "failed"
	}
	if _, err := s.incidents.AppendEvent(inc.ID, types.IncidentEvent{
		Type:        types.EventPlaybook,
		Description: fmt.Sprintf("Playbook %q %s (%d actions)", pb.Name, outcome, len(run.Actions)),
		Timestamp:   run.EndedAt,
	}); err != nil {
		s.logger.Error().Err(err).Str("incident_id", inc.ID).Msg("Failed to record playbook on incident")
	}
	run.IncidentID = inc.ID
	return run
}

// runPlaybook executes steps in order, stopping after a failed critical step.
func (s *Stage) runPlaybook(ctx context.Context, pb types.Playbook, execCtx map[string]interface{}) types.OrchestrationResult {
	res := types.OrchestrationResult{
		ID:        uuid.New().String(),
		Type:      types.ExecutionPlaybook,
		Name:      pb.Name,
		Success:   true,
		Actions:   []types.ActionResult{},
		StartedAt: time.Now().UTC(),
		Context:   execCtx,
	}

	for _, step := range pb.Steps {
		ar := s.executor.Execute(ctx, step.Action, mergeParams(execCtx, step.Params))
		res.Actions = append(res.Actions, ar)
		if ar.Success {
			continue
		}
		res.Success = false
		if step.Critical {
			s.logger.Warn().Str("playbook", pb.Name).Str("step", step.ID).Msg("Critical step failed, halting playbook")
			break
		}
	}

	s.finish(&res)
	return res
}

func (s *Stage) enforce(ctx context.Context, policy types.Policy, rule types.PolicyRule, result types.AnalyticsResult) types.OrchestrationResult {
	execCtx := map[string]interface{}{
		"policy_id":   policy.ID,
		"rule_id":     rule.ID,
		"condition":   rule.Condition,
		"environment": string(result.Environment),
		"source_id":   result.SourceID,
	}
	res := types.OrchestrationResult{
		ID:        uuid.New().String(),
		Type:      types.ExecutionPolicy,
		Name:      policy.Name,
		Success:   true,
		Actions:   make([]types.ActionResult, 0, len(rule.Actions)),
		StartedAt: time.Now().UTC(),
		Context:   execCtx,
	}
	for _, action := range rule.Actions {
		ar := s.executor.Execute(ctx, action, mergeParams(execCtx, nil))
		res.Actions = append(res.Actions, ar)
		if !ar.Success {
			res.Success = false
		}
	}

	s.finish(&res)
	return res
}

func (s *Stage) finish(res *types.OrchestrationResult) {
	res.EndedAt = time.Now().UTC()
	res.Duration = res.EndedAt.Sub(res.StartedAt)
	metrics.ObserveExecution(string(res.Type), res.Success)
	s.logger.Info().
		Str("execution_id", res.ID).
		Str("type", string(res.Type)).
		Str("name", res.Name).
		Bool("success", res.Success).
		Int("actions", len(res.Actions)).
		Dur("duration", res.Duration).
		Msg("Execution finished")
}

func mergeParams(base, over map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
