// pkg/events/hub.go
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	perrors "github.com/lucid-vigil/secops/pkg/errors"
	"github.com/rs/zerolog"
)

// Handler receives every value published on a Hub.
type Handler[T any] func(ctx context.Context, value T) error

// Hub is the subscribe/dispatch point every pipeline stage exposes.
// Publish delivers synchronously to subscribers in registration order.
// A failing or panicking subscriber is logged and skipped; it never
// reaches the publisher and never stops delivery to later subscribers.
type Hub[T any] struct {
	name         string
	handlers     []Handler[T]
	logger       zerolog.Logger
	errorHandler *perrors.ErrorHandler
	onFailure    func(stage string)
	mu           sync.RWMutex
	metrics      HubMetrics
}

// HubMetrics are dispatch counters for one hub.
type HubMetrics struct {
	Published       int64         `json:"published"`
	Delivered       int64         `json:"delivered"`
	HandlerErrors   int64         `json:"handler_errors"`
	LastDispatch    time.Duration `json:"last_dispatch"`
	SubscriberCount int           `json:"subscriber_count"`
}

// HubOption configures a Hub.
type HubOption[T any] func(*Hub[T])

// WithErrorHandler routes subscriber failures through a structured error handler.
func WithErrorHandler[T any](eh *perrors.ErrorHandler) HubOption[T] {
	return func(h *Hub[T]) { h.errorHandler = eh }
}

// WithFailureHook registers a callback invoked once per failed delivery.
func WithFailureHook[T any](fn func(stage string)) HubOption[T] {
	return func(h *Hub[T]) { h.onFailure = fn }
}

// NewHub creates a hub for the named stage.
func NewHub[T any](name string, logger zerolog.Logger, opts ...HubOption[T]) *Hub[T] {
	h := &Hub[T]{
		name:   name,
		logger: logger.With().Str("component", "hub").Str("stage", name).Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a single-argument callback.
func (h *Hub[T]) Subscribe(fn func(T)) {
	h.SubscribeHandler(func(_ context.Context, v T) error {
		fn(v)
		return nil
	})
}

// SubscribeHandler registers a context-aware handler that may return an error.
func (h *Hub[T]) SubscribeHandler(handler Handler[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handlers = append(h.handlers, handler)
	h.metrics.SubscriberCount = len(h.handlers)
	h.logger.Debug().Int("subscribers", len(h.handlers)).Msg("Subscriber registered")
}

// Publish dispatches value to all subscribers and returns the number of
// failed deliveries.
func (h *Hub[T]) Publish(ctx context.Context, value T) int {
	start := time.Now()

	h.mu.RLock()
	handlers := make([]Handler[T], len(h.handlers))
	copy(handlers, h.handlers)
	h.mu.RUnlock()

	failures := 0
	for i, handler := range handlers {
		if err := h.deliver(ctx, handler, value); err != nil {
			failures++
			h.reportFailure(ctx, i, err)
		}
	}

	h.mu.Lock()
	h.metrics.Published++
	h.metrics.Delivered += int64(len(handlers) - failures)
	h.metrics.HandlerErrors += int64(failures)
	h.metrics.LastDispatch = time.Since(start)
	h.mu.Unlock()

	return failures
}

func (h *Hub[T]) deliver(ctx context.Context, handler Handler[T], value T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return handler(ctx, value)
}

func (h *Hub[T]) reportFailure(ctx context.Context, index int, cause error) {
	if h.onFailure != nil {
		h.onFailure(h.name)
	}

	pe := perrors.NewCallbackError(h.name, index, cause)
	if h.errorHandler != nil {
		_ = h.errorHandler.HandleError(ctx, pe)
		return
	}
	h.logger.Error().
		Err(cause).
		Int("subscriber", index).
		Msg("Subscriber failed, continuing dispatch")
}

// GetMetrics returns a snapshot of the hub counters.
func (h *Hub[T]) GetMetrics() HubMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.metrics
}
