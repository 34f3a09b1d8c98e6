package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	perrors "github.com/lucid-vigil/secops/pkg/errors"
	"github.com/lucid-vigil/secops/pkg/types"
)

var incidents = mapper[types.Incident]{
	table:  "incidents",
	entity: "incident",
	columns: []string{"id", "title", "description", "severity", "status", "assignee",
		"affected_assets", "related_anomalies", "resolved_at", "created_at", "updated_at"},
	order: "created_at, id",
	id:    func(v *types.Incident) string { return v.ID },
	args: func(v *types.Incident, now time.Time) ([]any, error) {
		affected, err := toJSON(orEmptySlice(v.AffectedAssets))
		if err != nil {
			return nil, err
		}
		related, err := toJSON(orEmptySlice(v.RelatedAnomalies))
		if err != nil {
			return nil, err
		}
		if v.Status == "" {
			v.Status = types.IncidentNew
		}
		created, updated := stamp(&v.CreatedAt, &v.UpdatedAt, now)
		return []any{v.ID, v.Title, v.Description, string(v.Severity), string(v.Status), v.Assignee,
			affected, related, nullTS(v.ResolvedAt), created, updated}, nil
	},
	scan: func(r rowScanner) (types.Incident, error) {
		var (
			v                 types.Incident
			affected, related string
			resolved          sql.NullString
			tc                timeCols
		)
		dest := []any{&v.ID, &v.Title, &v.Description, &v.Severity, &v.Status, &v.Assignee,
			&affected, &related, &resolved}
		if err := r.Scan(append(dest, tc.dest()...)...); err != nil {
			return v, err
		}
		if err := fromJSON(affected, &v.AffectedAssets); err != nil {
			return v, err
		}
		if err := fromJSON(related, &v.RelatedAnomalies); err != nil {
			return v, err
		}
		var err error
		if v.ResolvedAt, err = parseNullTS(resolved); err != nil {
			return v, err
		}
		return v, tc.into(&v.CreatedAt, &v.UpdatedAt)
	},
}

var incidentEvents = mapper[types.IncidentEvent]{
	table:  "incident_events",
	entity: "incident event",
	columns: []string{"id", "incident_id", "timestamp", "type", "description", "actor",
		"created_at", "updated_at"},
	order: "timestamp, rowid",
	id:    func(v *types.IncidentEvent) string { return v.ID },
	args: func(v *types.IncidentEvent, now time.Time) ([]any, error) {
		if v.Timestamp.IsZero() {
			v.Timestamp = now
		}
		return []any{v.ID, v.IncidentID, ts(v.Timestamp), string(v.Type), v.Description, v.User,
			ts(now), ts(now)}, nil
	},
	scan: func(r rowScanner) (types.IncidentEvent, error) {
		var (
			v  types.IncidentEvent
			at string
			tc timeCols
		)
		dest := []any{&v.ID, &v.IncidentID, &at, &v.Type, &v.Description, &v.User}
		if err := r.Scan(append(dest, tc.dest()...)...); err != nil {
			return v, err
		}
		var err error
		v.Timestamp, err = parseTS(at)
		return v, err
	},
}

// CreateIncident inserts an incident and its timeline.
func (s *Store) CreateIncident(ctx context.Context, inc types.Incident) (types.Incident, error) {
	row, err := insert(ctx, s, incidents, inc)
	if err != nil {
		return row, err
	}
	return s.withTimeline(ctx, row, inc.Timeline)
}

// SaveIncident inserts or replaces an incident and appends any timeline
// events not stored yet. Saving the same incident repeatedly is safe.
func (s *Store) SaveIncident(ctx context.Context, inc types.Incident) (types.Incident, error) {
	row, err := upsert(ctx, s, incidents, inc)
	if err != nil {
		return row, err
	}
	return s.withTimeline(ctx, row, inc.Timeline)
}

func (s *Store) withTimeline(ctx context.Context, row types.Incident, timeline []types.IncidentEvent) (types.Incident, error) {
	for _, ev := range timeline {
		ev.IncidentID = row.ID
		if _, err := s.AppendIncidentEvent(ctx, ev); err != nil {
			return row, err
		}
	}
	var err error
	row.Timeline, err = s.ListIncidentEvents(ctx, row.ID)
	return row, err
}

// GetIncident returns the incident with its timeline.
func (s *Store) GetIncident(ctx context.Context, id string) (types.Incident, error) {
	inc, err := get(ctx, s, incidents, id)
	if err != nil {
		return inc, err
	}
	inc.Timeline, err = s.ListIncidentEvents(ctx, id)
	return inc, err
}

// ListIncidents returns incidents in creation order, optionally with one
// status. Timelines are not loaded.
func (s *Store) ListIncidents(ctx context.Context, status types.IncidentStatus) ([]types.Incident, error) {
	if status == "" {
		return list(ctx, s, incidents, "", nil)
	}
	return list(ctx, s, incidents, "status", string(status))
}

// UpdateIncident overwrites the incident row. The timeline is untouched.
func (s *Store) UpdateIncident(ctx context.Context, inc types.Incident) (types.Incident, error) {
	row, err := update(ctx, s, incidents, inc)
	if err != nil {
		return row, err
	}
	row.Timeline, err = s.ListIncidentEvents(ctx, row.ID)
	return row, err
}

// DeleteIncident removes the incident and its timeline.
func (s *Store) DeleteIncident(ctx context.Context, id string) error {
	return remove(ctx, s, incidents, id)
}

// AppendIncidentEvent stores a timeline event. Events are insert-only; an
// event whose id is already stored is left as it was.
func (s *Store) AppendIncidentEvent(ctx context.Context, ev types.IncidentEvent) (types.IncidentEvent, error) {
	if ev.IncidentID == "" {
		return ev, perrors.NewValidationError("store", fmt.Errorf("incident event %s: incident id is required", ev.ID))
	}
	return insertWith(ctx, s, incidentEvents, ev, "ON CONFLICT(id) DO NOTHING")
}

// ListIncidentEvents returns an incident's timeline in time order.
func (s *Store) ListIncidentEvents(ctx context.Context, incidentID string) ([]types.IncidentEvent, error) {
	return list(ctx, s, incidentEvents, "incident_id", incidentID)
}
