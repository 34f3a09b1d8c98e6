package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lucid-vigil/secops/pkg/simulate"
	"github.com/lucid-vigil/secops/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrActionFailed is the simulated step failure.
var ErrActionFailed = errors.New("simulated action failure")

// ErrThrottled is returned when an action exceeds its rate limit.
var ErrThrottled = errors.New("action rate limit exceeded")

// ActionExecutor carries out one playbook step or policy action.
type ActionExecutor interface {
	Execute(ctx context.Context, action string, params map[string]interface{}) types.ActionResult
}

// SimulatedExecutor succeeds with probability SuccessRate.
type SimulatedExecutor struct {
	Rand        *simulate.Source
	SuccessRate float64
}

// NewSimulatedExecutor returns an executor succeeding at rate.
func NewSimulatedExecutor(rng *simulate.Source, successRate float64) *SimulatedExecutor {
	if rng == nil {
		rng = simulate.NewRandom()
	}
	return &SimulatedExecutor{Rand: rng, SuccessRate: successRate}
}

func (e *SimulatedExecutor) Execute(_ context.Context, action string, _ map[string]interface{}) types.ActionResult {
	res := types.ActionResult{Action: action, Success: true, Timestamp: time.Now().UTC()}
	if !e.Rand.Chance(e.SuccessRate) {
		res.Success = false
		res.Message = ErrActionFailed.Error()
	}
	return res
}

// ActionDispatcher runs actions through an executor, applying the enabled
// switch, per-action rate limits and the effect of registered actions.
type ActionDispatcher struct {
	actions  map[string]Action
	limiters map[string]*rate.Limiter
	executor ActionExecutor
	enabled  bool
	limit    rate.Limit
	burst    int
	logger   zerolog.Logger
	mu       sync.RWMutex
}

// DispatcherOption configures an ActionDispatcher.
type DispatcherOption func(*ActionDispatcher)

// WithRateLimit caps each action name at perSecond executions with the
// given burst. A non-positive perSecond disables limiting.
func WithRateLimit(perSecond float64, burst int) DispatcherOption {
	return func(ad *ActionDispatcher) {
		if perSecond <= 0 {
			ad.limit = rate.Inf
			return
		}
		if burst <= 0 {
			burst = 1
		}
		ad.limit = rate.Limit(perSecond)
		ad.burst = burst
	}
}

// NewActionDispatcher creates a dispatcher with the built-in containment
// actions registered.
func NewActionDispatcher(enabled bool, executor ActionExecutor, containment *Containment, logger zerolog.Logger, opts ...DispatcherOption) *ActionDispatcher {
	ad := &ActionDispatcher{
		actions:  make(map[string]Action),
		limiters: make(map[string]*rate.Limiter),
		executor: executor,
		enabled:  enabled,
		limit:    rate.Inf,
		logger:   logger.With().Str("component", "action_dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(ad)
	}

	if containment != nil {
		ad.RegisterAction(&BlockIPAction{Containment: containment})
		ad.RegisterAction(&IsolateHostAction{Containment: containment})
	}
	return ad
}

// RegisterAction registers a new action with the dispatcher
func (ad *ActionDispatcher) RegisterAction(action Action) {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	ad.actions[action.Name()] = action
	ad.logger.Debug().Str("action", action.Name()).Msg("Action registered")
}

// Execute runs one action and reports its outcome. With actions disabled
// the action is reported as a successful dry run.
func (ad *ActionDispatcher) Execute(ctx context.Context, name string, params map[string]interface{}) types.ActionResult {
	if !ad.IsEnabled() {
		ad.logger.Info().Str("action", name).Msg("Actions are disabled, skipping execution")
		return types.ActionResult{Action: name, Success: true, Message: "dry run: actions disabled", Timestamp: time.Now().UTC()}
	}

	if !ad.limiter(name).Allow() {
		ad.logger.Warn().Str("action", name).Msg("Action throttled")
		return types.ActionResult{Action: name, Success: false, Message: ErrThrottled.Error(), Timestamp: time.Now().UTC()}
	}

	res := ad.executor.Execute(ctx, name, params)
	if !res.Success {
		ad.logger.Warn().Str("action", name).Str("reason", res.Message).Msg("Action execution failed")
		return res
	}

	ad.mu.RLock()
	action, registered := ad.actions[name]
	ad.mu.RUnlock()
	if registered {
		if err := action.Execute(ctx, params); err != nil {
			ad.logger.Error().Err(err).Str("action", name).Msg("Action execution failed")
			res.Success = false
			res.Message = err.Error()
			return res
		}
		if res.Message == "" {
			res.Message = fmt.Sprintf("%s applied", name)
		}
	}

	ad.logger.Debug().Str("action", name).Msg("Action executed successfully")
	return res
}

func (ad *ActionDispatcher) limiter(name string) *rate.Limiter {
	ad.mu.Lock()
	defer ad.mu.Unlock()
	l, ok := ad.limiters[name]
	if !ok {
		l = rate.NewLimiter(ad.limit, ad.burst)
		ad.limiters[name] = l
	}
	return l
}

// IsEnabled returns whether actions are enabled
func (ad *ActionDispatcher) IsEnabled() bool {
	ad.mu.RLock()
	defer ad.mu.RUnlock()
	return ad.enabled
}

// SetEnabled enables or disables action execution
func (ad *ActionDispatcher) SetEnabled(enabled bool) {
	ad.mu.Lock()
	ad.enabled = enabled
	ad.mu.Unlock()
	ad.logger.Info().Bool("enabled", enabled).Msg("Action execution status changed")
}
