// Package ingestion registers data sources, polls them on their own
// schedules, keeps a bounded buffer of recent records per source and pushes
// every fetched batch downstream.
package ingestion

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	perrors "github.com/lucid-vigil/secops/pkg/errors"
	"github.com/lucid-vigil/secops/pkg/events"
	"github.com/lucid-vigil/secops/pkg/metrics"
	"github.com/lucid-vigil/secops/pkg/scheduler"
	"github.com/lucid-vigil/secops/pkg/simulate"
	"github.com/lucid-vigil/secops/pkg/types"
	"github.com/rs/zerolog"
)

const stageName = "ingestion"

// SourceChange reports a source state transition. When Removed is set the
// source is no longer registered and Source holds its last state.
type SourceChange struct {
	Source  types.DataSource
	Removed bool
}

// Stage is the ingestion stage.
type Stage struct {
	sources map[string]*types.DataSource
	buffers map[string]*recordBuffer
	mu      sync.RWMutex

	fetchers       map[types.SourceType]Fetcher
	defaultFetcher Fetcher
	capacity       int
	dedup          *deduplicator

	scheduler    *scheduler.Scheduler
	hub          *events.Hub[types.IngestionBatch]
	changes      *events.Hub[SourceChange]
	validate     *validator.Validate
	errorHandler *perrors.ErrorHandler
	now          func() time.Time
	logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Stage.
type Option func(*Stage)

// WithCapacity bounds every per-source buffer.
func WithCapacity(n int) Option {
	return func(s *Stage) { s.capacity = n }
}

// WithDedupWindow drops records whose id the same source delivered less
// than window ago. Zero disables deduplication.
func WithDedupWindow(window time.Duration) Option {
	return func(s *Stage) {
		if window > 0 {
			s.dedup = newDeduplicator(window)
		} else {
			s.dedup = nil
		}
	}
}

// WithFetcher binds a fetcher to one source type.
func WithFetcher(t types.SourceType, f Fetcher) Option {
	return func(s *Stage) { s.fetchers[t] = f }
}

// WithDefaultFetcher replaces the fetcher used for unbound source types.
func WithDefaultFetcher(f Fetcher) Option {
	return func(s *Stage) { s.defaultFetcher = f }
}

// WithErrorHandler routes fetch failures and subscriber failures through eh.
func WithErrorHandler(eh *perrors.ErrorHandler) Option {
	return func(s *Stage) { s.errorHandler = eh }
}

// WithClock overrides the time source used for sync timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Stage) { s.now = now }
}

// New creates an ingestion stage. Collection tasks run until Close.
func New(logger zerolog.Logger, opts ...Option) *Stage {
	logger = logger.With().Str("component", stageName).Logger()
	s := &Stage{
		sources:        make(map[string]*types.DataSource),
		buffers:        make(map[string]*recordBuffer),
		fetchers:       map[types.SourceType]Fetcher{types.SourceEndpointAgent: HostFetcher{}},
		defaultFetcher: NewSimulatedFetcher(simulate.NewRandom(), 500*time.Millisecond, 0.05, 10),
		capacity:       DefaultBufferCapacity,
		scheduler:      scheduler.NewScheduler(logger),
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	hubOpts := []events.HubOption[types.IngestionBatch]{
		events.WithFailureHook[types.IngestionBatch](metrics.SubscriberFailure),
	}
	if s.errorHandler != nil {
		hubOpts = append(hubOpts, events.WithErrorHandler[types.IngestionBatch](s.errorHandler))
	}
	s.hub = events.NewHub[types.IngestionBatch](stageName, logger, hubOpts...)

	changeOpts := []events.HubOption[SourceChange]{
		events.WithFailureHook[SourceChange](metrics.SubscriberFailure),
	}
	if s.errorHandler != nil {
		changeOpts = append(changeOpts, events.WithErrorHandler[SourceChange](s.errorHandler))
	}
	s.changes = events.NewHub[SourceChange]("sources", logger, changeOpts...)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Subscribe registers a callback for every fetched batch.
func (s *Stage) Subscribe(fn func(types.IngestionBatch)) {
	s.hub.Subscribe(fn)
}

// SubscribeHandler registers a context-aware batch handler.
func (s *Stage) SubscribeHandler(h events.Handler[types.IngestionBatch]) {
	s.hub.SubscribeHandler(h)
}

// SubscribeSourceChanges registers a handler for every source state
// transition: registration, update, start, stop, removal and the status and
// sync time written by each collection tick.
func (s *Stage) SubscribeSourceChanges(h events.Handler[SourceChange]) {
	s.changes.SubscribeHandler(h)
}

func (s *Stage) notify(ctx context.Context, source types.DataSource, removed bool) {
	s.changes.Publish(context.WithoutCancel(ctx), SourceChange{Source: source, Removed: removed})
}

// Register validates and stores a source and, when it is active with a
// positive polling interval, starts its collection task.
func (s *Stage) Register(ctx context.Context, source types.DataSource) error {
	if source.Status == "" {
		source.Status = types.SourceActive
	}
	if err := s.validate.StructCtx(ctx, source); err != nil {
		return perrors.NewValidationError(stageName, err)
	}

	now := s.now()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	source.UpdatedAt = now

	s.mu.Lock()
	if _, exists := s.sources[source.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("source %q already registered: %w", source.ID, perrors.ErrInvalid)
	}
	stored := source
	s.sources[source.ID] = &stored
	s.buffers[source.ID] = newRecordBuffer(s.capacity)
	s.mu.Unlock()

	s.logger.Info().
		Str("source_id", source.ID).
		Str("type", string(source.Type)).
		Str("environment", string(source.Environment)).
		Int("polling_interval", source.PollingInterval).
		Msg("Data source registered")
	s.notify(ctx, stored, false)

	if source.Pollable() {
		s.schedule(source)
	}
	return nil
}

// Update replaces a source definition, restarting its task when the
// polling interval or status changed.
func (s *Stage) Update(ctx context.Context, source types.DataSource) error {
	if err := s.validate.StructCtx(ctx, source); err != nil {
		return perrors.NewValidationError(stageName, err)
	}

	s.mu.Lock()
	cur, ok := s.sources[source.ID]
	if !ok {
		s.mu.Unlock()
		return perrors.NewNotFoundError(stageName, "source", source.ID)
	}
	restart := cur.PollingInterval != source.PollingInterval || cur.Status != source.Status
	source.CreatedAt = cur.CreatedAt
	if source.LastSyncTime == nil {
		source.LastSyncTime = cur.LastSyncTime
	}
	source.UpdatedAt = s.now()
	*cur = source
	s.mu.Unlock()
	s.notify(ctx, source, false)

	if restart {
		s.scheduler.Cancel(source.ID)
		if source.Pollable() {
			s.schedule(source)
		}
	}
	s.logger.Info().Str("source_id", source.ID).Bool("restarted", restart).Msg("Data source updated")
	return nil
}

// Remove stops a source's task and discards its buffer.
func (s *Stage) Remove(id string) error {
	s.mu.Lock()
	cur, ok := s.sources[id]
	if !ok {
		s.mu.Unlock()
		return perrors.NewNotFoundError(stageName, "source", id)
	}
	last := *cur
	delete(s.sources, id)
	delete(s.buffers, id)
	s.mu.Unlock()

	if s.dedup != nil {
		s.dedup.forget(id)
	}
	s.scheduler.Cancel(id)
	s.logger.Info().Str("source_id", id).Msg("Data source removed")
	s.notify(context.Background(), last, true)
	return nil
}

// Start marks a source active and starts its task. Starting a running
// source is a no-op.
func (s *Stage) Start(id string) error {
	s.mu.Lock()
	cur, ok := s.sources[id]
	if !ok {
		s.mu.Unlock()
		return perrors.NewNotFoundError(stageName, "source", id)
	}
	changed := cur.Status != types.SourceActive
	if changed {
		cur.Status = types.SourceActive
		cur.UpdatedAt = s.now()
	}
	source := *cur
	s.mu.Unlock()

	if changed {
		s.notify(context.Background(), source, false)
	}

	if source.Pollable() && !s.scheduler.Running(id) {
		s.schedule(source)
	}
	return nil
}

// Stop cancels a source's task and marks it inactive. Stopping a stopped
// source is a no-op.
func (s *Stage) Stop(id string) error {
	s.mu.Lock()
	cur, ok := s.sources[id]
	if !ok {
		s.mu.Unlock()
		return perrors.NewNotFoundError(stageName, "source", id)
	}
	changed := cur.Status != types.SourceInactive
	if changed {
		cur.Status = types.SourceInactive
		cur.UpdatedAt = s.now()
	}
	source := *cur
	s.mu.Unlock()

	if changed {
		s.notify(context.Background(), source, false)
	}

	if s.scheduler.Cancel(id) {
		s.logger.Info().Str("source_id", id).Msg("Data source stopped")
	}
	return nil
}

// Running reports whether a source has a live collection task.
func (s *Stage) Running(id string) bool {
	return s.scheduler.Running(id)
}

// Close stops every collection task and waits for them to exit.
func (s *Stage) Close() {
	s.cancel()
	s.scheduler.Stop()
}

func (s *Stage) schedule(source types.DataSource) {
	id := source.ID
	s.scheduler.Schedule(s.ctx, id, source.Interval(), func(ctx context.Context) {
		// Failures are already logged and reflected in the source status.
		_ = s.Collect(ctx, id)
	})
}

// Collect performs one collection tick for a source. A successful fetch
// clears an error status; a source stopped while its fetch was in flight
// stays inactive.
func (s *Stage) Collect(ctx context.Context, id string) error {
	s.mu.RLock()
	cur, ok := s.sources[id]
	var source types.DataSource
	if ok {
		source = *cur
	}
	s.mu.RUnlock()
	if !ok {
		return perrors.NewNotFoundError(stageName, "source", id)
	}

	start := time.Now()
	records, err := s.fetcherFor(source.Type).Fetch(ctx, source)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.fetchFailed(ctx, source, err)
	}

	now := s.now()
	duplicates := 0
	if s.dedup != nil {
		records, duplicates = s.dedup.filter(id, records, now)
	}

	s.mu.Lock()
	cur, ok = s.sources[id]
	if !ok {
		s.mu.Unlock()
		return perrors.NewNotFoundError(stageName, "source", id)
	}
	dropped := s.buffers[id].append(records)
	if cur.Status == types.SourceError {
		cur.Status = types.SourceActive
	}
	cur.LastSyncTime = &now
	cur.UpdatedAt = now
	synced := *cur
	s.mu.Unlock()
	s.notify(ctx, synced, false)

	metrics.ObserveFetch(string(source.Environment), len(records), true)
	metrics.ObserveStage(stageName, time.Since(start))

	logEvent := s.logger.Debug().Str("source_id", id).Int("batch_size", len(records))
	if dropped > 0 {
		logEvent = logEvent.Int("dropped", dropped)
	}
	if duplicates > 0 {
		logEvent = logEvent.Int("duplicates", duplicates)
	}
	logEvent.Msg("Batch collected")

	if len(records) == 0 && duplicates > 0 {
		return nil
	}

	batch := types.IngestionBatch{SourceID: id, Records: records, FetchedAt: now}
	s.hub.Publish(context.WithoutCancel(ctx), batch)
	return nil
}

func (s *Stage) fetchFailed(ctx context.Context, source types.DataSource, cause error) error {
	s.mu.Lock()
	cur, ok := s.sources[source.ID]
	if ok {
		cur.Status = types.SourceError
		cur.UpdatedAt = s.now()
		source = *cur
	}
	s.mu.Unlock()
	if ok {
		s.notify(ctx, source, false)
	}

	metrics.ObserveFetch(string(source.Environment), 0, false)

	pe := perrors.NewSimulatedFailure(stageName, "fetch", map[string]interface{}{
		"source_id":   source.ID,
		"source_type": string(source.Type),
	})
	pe.Cause = cause
	if s.errorHandler != nil {
		_ = s.errorHandler.HandleError(ctx, pe)
	} else {
		s.logger.Warn().Err(cause).Str("source_id", source.ID).Msg("Fetch failed, source marked as error")
	}
	return pe
}

func (s *Stage) fetcherFor(t types.SourceType) Fetcher {
	if f, ok := s.fetchers[t]; ok {
		return f
	}
	return s.defaultFetcher
}

// Source returns a copy of the registered source.
func (s *Stage) Source(id string) (types.DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.sources[id]
	if !ok {
		return types.DataSource{}, perrors.NewNotFoundError(stageName, "source", id)
	}
	return *cur, nil
}

// Lookup returns a source's environment and type; it satisfies the
// processing stage's resolver.
func (s *Stage) Lookup(id string) (types.Environment, types.SourceType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.sources[id]
	if !ok {
		return "", "", false
	}
	return cur.Environment, cur.Type, true
}

// Sources returns copies of every registered source ordered by id.
func (s *Stage) Sources() []types.DataSource {
	s.mu.RLock()
	out := make([]types.DataSource, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, *src)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Buffer returns the buffered records of a source, oldest first.
func (s *Stage) Buffer(id string) ([]types.RawRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buffers[id]
	if !ok {
		return nil, perrors.NewNotFoundError(stageName, "source", id)
	}
	return b.snapshot(), nil
}
