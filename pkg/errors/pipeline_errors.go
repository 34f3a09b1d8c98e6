// pkg/errors/pipeline_errors.go
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sentinel errors matched with errors.Is across the module.
var (
	ErrNotFound       = stderrors.New("not found")
	ErrNotInitialized = stderrors.New("store not initialized")
	ErrInvalid        = stderrors.New("invalid input")
)

// Kind is the error taxonomy of the pipeline.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindCallbackFailure  Kind = "callback_failure"
	KindSimulatedFailure Kind = "simulated_failure"
	KindNotInitialized   Kind = "not_initialized"
	KindValidation       Kind = "validation"
)

// PipelineError represents a structured error raised by a stage
type PipelineError struct {
	Stage       string                 `json:"stage"`
	Kind        Kind                   `json:"kind"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Severity    Severity               `json:"severity"`
	Recoverable bool                   `json:"recoverable"`
	Cause       error                  `json:"-"`
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Error implements the error interface
func (pe *PipelineError) Error() string {
	if pe.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", pe.Stage, pe.Kind, pe.Message, pe.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", pe.Stage, pe.Kind, pe.Message)
}

// Unwrap returns the underlying cause
func (pe *PipelineError) Unwrap() error {
	return pe.Cause
}

// Is lets errors.Is match a PipelineError against the sentinel of its kind.
func (pe *PipelineError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return pe.Kind == KindNotFound
	case ErrNotInitialized:
		return pe.Kind == KindNotInitialized
	case ErrInvalid:
		return pe.Kind == KindValidation
	}
	return false
}

// ErrorHandler logs pipeline errors and forwards them to a collector
type ErrorHandler struct {
	logger    zerolog.Logger
	collector ErrorCollector
}

// ErrorCollector defines how errors are collected and reported
type ErrorCollector interface {
	CollectError(ctx context.Context, err *PipelineError) error
	GetErrorStats() ErrorStats
}

type ErrorStats struct {
	TotalErrors      int              `json:"total_errors"`
	ErrorsByKind     map[Kind]int     `json:"errors_by_kind"`
	ErrorsByStage    map[string]int   `json:"errors_by_stage"`
	ErrorsBySeverity map[Severity]int `json:"errors_by_severity"`
	LastError        *PipelineError   `json:"last_error,omitempty"`
}

// NewErrorHandler creates a new error handler. collector may be nil.
func NewErrorHandler(logger zerolog.Logger, collector ErrorCollector) *ErrorHandler {
	return &ErrorHandler{
		logger:    logger.With().Str("component", "error_handler").Logger(),
		collector: collector,
	}
}

// HandleError logs the error at its severity and hands it to the collector
func (eh *ErrorHandler) HandleError(ctx context.Context, err *PipelineError) error {
	if err == nil {
		return nil
	}

	logEvent := eh.getLogEvent(err.Severity).
		Str("stage", err.Stage).
		Str("kind", string(err.Kind)).
		Str("reason", err.Message).
		Bool("recoverable", err.Recoverable)

	if err.Details != nil {
		logEvent = logEvent.Interface("details", err.Details)
	}

	if err.Cause != nil {
		logEvent = logEvent.AnErr("cause", err.Cause)
	}

	logEvent.Msg("Pipeline error occurred")

	if eh.collector != nil {
		return eh.collector.CollectError(ctx, err)
	}

	return nil
}

// getLogEvent maps severity to a log level. Nothing here terminates the
// process; critical errors are logged at error level.
func (eh *ErrorHandler) getLogEvent(severity Severity) *zerolog.Event {
	switch severity {
	case SeverityCritical, SeverityHigh:
		return eh.logger.Error()
	case SeverityMedium:
		return eh.logger.Warn()
	case SeverityLow:
		return eh.logger.Info()
	case SeverityInfo:
		return eh.logger.Debug()
	default:
		return eh.logger.Info()
	}
}

// StatsCollector is an in-memory ErrorCollector.
type StatsCollector struct {
	mu    sync.Mutex
	stats ErrorStats
}

// NewStatsCollector returns an empty collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{stats: ErrorStats{
		ErrorsByKind:     make(map[Kind]int),
		ErrorsByStage:    make(map[string]int),
		ErrorsBySeverity: make(map[Severity]int),
	}}
}

func (sc *StatsCollector) CollectError(_ context.Context, err *PipelineError) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.stats.TotalErrors++
	sc.stats.ErrorsByKind[err.Kind]++
	sc.stats.ErrorsByStage[err.Stage]++
	sc.stats.ErrorsBySeverity[err.Severity]++
	sc.stats.LastError = err
	return nil
}

func (sc *StatsCollector) GetErrorStats() ErrorStats {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	out := ErrorStats{
		TotalErrors:      sc.stats.TotalErrors,
		ErrorsByKind:     make(map[Kind]int, len(sc.stats.ErrorsByKind)),
		ErrorsByStage:    make(map[string]int, len(sc.stats.ErrorsByStage)),
		ErrorsBySeverity: make(map[Severity]int, len(sc.stats.ErrorsBySeverity)),
		LastError:        sc.stats.LastError,
	}
	for k, v := range sc.stats.ErrorsByKind {
		out.ErrorsByKind[k] = v
	}
	for k, v := range sc.stats.ErrorsByStage {
		out.ErrorsByStage[k] = v
	}
	for k, v := range sc.stats.ErrorsBySeverity {
		out.ErrorsBySeverity[k] = v
	}
	return out
}

// Helper functions for creating common error types

func NewNotFoundError(stage, entity, id string) *PipelineError {
	return &PipelineError{
		Stage:   stage,
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s %q not found", entity, id),
		Details: map[string]interface{}{
			"entity": entity,
			"id":     id,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityLow,
		Recoverable: true,
	}
}

func NewCallbackError(stage string, subscriber int, cause error) *PipelineError {
	return &PipelineError{
		Stage:   stage,
		Kind:    KindCallbackFailure,
		Message: "Subscriber callback failed",
		Details: map[string]interface{}{
			"subscriber": subscriber,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewSimulatedFailure(stage, operation string, details map[string]interface{}) *PipelineError {
	return &PipelineError{
		Stage:       stage,
		Kind:        KindSimulatedFailure,
		Message:     fmt.Sprintf("Simulated external failure: %s", operation),
		Details:     details,
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
	}
}

func NewValidationError(stage string, cause error) *PipelineError {
	return &PipelineError{
		Stage:       stage,
		Kind:        KindValidation,
		Message:     "Validation failed",
		Timestamp:   time.Now(),
		Severity:    SeverityLow,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewNotInitializedError(stage, operation string) *PipelineError {
	return &PipelineError{
		Stage:   stage,
		Kind:    KindNotInitialized,
		Message: fmt.Sprintf("%s called before initialization", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityCritical,
		Recoverable: false,
	}
}
