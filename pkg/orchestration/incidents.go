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
	"github.com/lucid-vigil/secops/pkg/types"
	"github.com/rs/zerolog"
)

// IncidentStore is the in-memory incident registry. Timelines are
// append-only with non-decreasing timestamps, and statuses only move forward.
type IncidentStore struct {
	incidents map[string]*types.Incident
	byAnomaly map[string]string
	order     []string
	now       func() time.Time
	mu        sync.RWMutex

	changes      *events.Hub[types.Incident]
	logger       zerolog.Logger
	errorHandler *perrors.ErrorHandler
}

// IncidentOption configures an IncidentStore.
type IncidentOption func(*IncidentStore)

// IncidentLogger logs change subscriber failures to logger.
func IncidentLogger(logger zerolog.Logger) IncidentOption {
	return func(s *IncidentStore) { s.logger = logger }
}

// IncidentErrorHandler routes change subscriber failures through eh.
func IncidentErrorHandler(eh *perrors.ErrorHandler) IncidentOption {
	return func(s *IncidentStore) { s.errorHandler = eh }
}

// NewIncidentStore returns an empty store.
func NewIncidentStore(opts ...IncidentOption) *IncidentStore {
	s := &IncidentStore{
		incidents: make(map[string]*types.Incident),
		byAnomaly: make(map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	hubOpts := []events.HubOption[types.Incident]{
		events.WithFailureHook[types.Incident](metrics.SubscriberFailure),
	}
	if s.errorHandler != nil {
		hubOpts = append(hubOpts, events.WithErrorHandler[types.Incident](s.errorHandler))
	}
	s.changes = events.NewHub[types.Incident]("incidents", s.logger, hubOpts...)
	return s
}

// SubscribeChanges registers a handler that receives a copy of an incident
// after every mutation: creation, appended events, status changes and
// assignment. Handlers run after the store lock is released.
func (s *IncidentStore) SubscribeChanges(h events.Handler[types.Incident]) {
	s.changes.SubscribeHandler(h)
}

func (s *IncidentStore) notify(inc types.Incident) {
	s.changes.Publish(context.Background(), inc)
}

// LookupOrCreate returns the incident already tracking the anomaly, or
// creates one from build. The lookup and the insert happen under one lock,
// so concurrent deliveries of the same anomaly yield a single incident.
func (s *IncidentStore) LookupOrCreate(anomaly types.Anomaly, build func() types.Incident) (types.Incident, bool) {
	inc, created := s.lookupOrCreate(anomaly, build)
	if created {
		s.notify(inc.Clone())
	}
	return inc, created
}

func (s *IncidentStore) lookupOrCreate(anomaly types.Anomaly, build func() types.Incident) (types.Incident, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byAnomaly[anomaly.ID]; ok {
		return s.incidents[id].Clone(), false
	}

	inc := build()
	now := s.now()
	if inc.ID == "" {
		inc.ID = uuid.New().String()
	}
	inc.Status = types.IncidentNew
	inc.CreatedAt = now
	inc.UpdatedAt = now
	inc.ResolvedAt = nil
	inc.Timeline = nil
	if !inc.HasAnomaly(anomaly.ID) {
		inc.RelatedAnomalies = append(inc.RelatedAnomalies, anomaly.ID)
	}

	stored := inc.Clone()
	s.incidents[stored.ID] = &stored
	s.order = append(s.order, stored.ID)
	for _, a := range stored.RelatedAnomalies {
		if _, taken := s.byAnomaly[a]; !taken {
			s.byAnomaly[a] = stored.ID
		}
	}
	s.appendLocked(&stored, types.IncidentEvent{
		Type:        types.EventCreated,
		Description: fmt.Sprintf("Incident created from anomaly %s", anomaly.ID),
		Timestamp:   now,
	})
	return stored.Clone(), true
}

// AppendEvent adds an event to an incident's timeline and returns it as
// stored. A timestamp earlier than the last entry is raised to it.
func (s *IncidentStore) AppendEvent(incidentID string, ev types.IncidentEvent) (types.IncidentEvent, error) {
	s.mu.Lock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		s.mu.Unlock()
		return types.IncidentEvent{}, perrors.NewNotFoundError("orchestration", "incident", incidentID)
	}
	stored := s.appendLocked(inc, ev)
	changed := inc.Clone()
	s.mu.Unlock()

	s.notify(changed)
	return stored, nil
}

func (s *IncidentStore) appendLocked(inc *types.Incident, ev types.IncidentEvent) types.IncidentEvent {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.IncidentID = inc.ID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	if n := len(inc.Timeline); n > 0 && ev.Timestamp.Before(inc.Timeline[n-1].Timestamp) {
		ev.Timestamp = inc.Timeline[n-1].Timestamp
	}
	inc.Timeline = append(inc.Timeline, ev)
	if ev.Timestamp.After(inc.UpdatedAt) {
		inc.UpdatedAt = ev.Timestamp
	}
	return ev
}

// UpdateStatus moves an incident forward. Backward and same-state moves
// fail with ErrInvalid. Resolving or closing sets ResolvedAt once.
func (s *IncidentStore) UpdateStatus(incidentID string, status types.IncidentStatus, user string) error {
	s.mu.Lock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		s.mu.Unlock()
		return perrors.NewNotFoundError("orchestration", "incident", incidentID)
	}
	if !inc.Status.CanTransitionTo(status) {
		prev := inc.Status
		s.mu.Unlock()
		return fmt.Errorf("incident %s: transition %s -> %s: %w", incidentID, prev, status, perrors.ErrInvalid)
	}
	s.moveLocked(inc, status, user)
	changed := inc.Clone()
	s.mu.Unlock()

	s.notify(changed)
	return nil
}

func (s *IncidentStore) moveLocked(inc *types.Incident, status types.IncidentStatus, user string) {
	prev := inc.Status
	inc.Status = status
	ev := s.appendLocked(inc, types.IncidentEvent{
		Type:        types.EventStatusChange,
		Description: fmt.Sprintf("Status changed from %s to %s", prev, status),
		User:        user,
	})
	if status.Terminal() && inc.ResolvedAt == nil {
		resolved := ev.Timestamp
		inc.ResolvedAt = &resolved
	}
}

// Assign sets the assignee. A new incident advances to assigned, which is
// recorded as a status change after the assignment event.
func (s *IncidentStore) Assign(incidentID, assignee, user string) error {
	if assignee == "" {
		return fmt.Errorf("empty assignee: %w", perrors.ErrInvalid)
	}

	s.mu.Lock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		s.mu.Unlock()
		return perrors.NewNotFoundError("orchestration", "incident", incidentID)
	}
	inc.Assignee = assignee
	s.appendLocked(inc, types.IncidentEvent{
		Type:        types.EventAssignment,
		Description: fmt.Sprintf("Assigned to %s", assignee),
		User:        user,
	})
	if inc.Status == types.IncidentNew {
		s.moveLocked(inc, types.IncidentAssigned, user)
	}
	changed := inc.Clone()
	s.mu.Unlock()

	s.notify(changed)
	return nil
}

// Get returns a copy of an incident.
func (s *IncidentStore) Get(incidentID string) (types.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return types.Incident{}, perrors.NewNotFoundError("orchestration", "incident", incidentID)
	}
	return inc.Clone(), nil
}

// FindByAnomaly returns the incident tracking an anomaly.
func (s *IncidentStore) FindByAnomaly(anomalyID string) (types.Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAnomaly[anomalyID]
	if !ok {
		return types.Incident{}, false
	}
	return s.incidents[id].Clone(), true
}

// List returns copies of all incidents in creation order.
func (s *IncidentStore) List() []types.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Incident, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.incidents[id].Clone())
	}
	return out
}
