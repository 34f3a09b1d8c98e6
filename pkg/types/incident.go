package types

import (
	"time"
)

// IncidentStatus is the incident lifecycle state.
type IncidentStatus string

const (
	IncidentNew           IncidentStatus = "new"
	IncidentAssigned      IncidentStatus = "assigned"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentContained     IncidentStatus = "contained"
	IncidentRemediated    IncidentStatus = "remediated"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentClosed        IncidentStatus = "closed"
)

var incidentOrder = map[IncidentStatus]int{
	IncidentNew:           0,
	IncidentAssigned:      1,
	IncidentInvestigating: 2,
	IncidentContained:     3,
	IncidentRemediated:    4,
	IncidentResolved:      5,
	IncidentClosed:        6,
}

// Valid reports whether s is a known incident status.
func (s IncidentStatus) Valid() bool {
	_, ok := incidentOrder[s]
	return ok
}

// Terminal reports whether s ends the active life of an incident.
func (s IncidentStatus) Terminal() bool {
	return s == IncidentResolved || s == IncidentClosed
}

// CanTransitionTo reports whether moving from s to next is a forward move.
func (s IncidentStatus) CanTransitionTo(next IncidentStatus) bool {
	from, ok := incidentOrder[s]
	if !ok {
		return false
	}
	to, ok := incidentOrder[next]
	if !ok {
		return false
	}
	return to > from
}

// IncidentEventType classifies timeline entries.
type IncidentEventType string

const (
	EventCreated      IncidentEventType = "created"
	EventStatusChange IncidentEventType = "status_change"
	EventAssignment   IncidentEventType = "assignment"
	EventComment      IncidentEventType = "comment"
	EventAction       IncidentEventType = "action"
	EventPlaybook     IncidentEventType = "playbook"
)

// IncidentEvent is one append-only timeline entry.
type IncidentEvent struct {
	ID          string            `json:"id"`
	IncidentID  string            `json:"incidentId"`
	Timestamp   time.Time         `json:"timestamp"`
	Type        IncidentEventType `json:"type"`
	Description string            `json:"description"`
	User        string            `json:"user,omitempty"`
}

// Incident groups the response to one or more anomalies.
type Incident struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Severity         Severity        `json:"severity"`
	Status           IncidentStatus  `json:"status"`
	Assignee         string          `json:"assignee,omitempty"`
	AffectedAssets   []string        `json:"affectedAssets"`
	RelatedAnomalies []string        `json:"relatedAnomalies"`
	Timeline         []IncidentEvent `json:"timeline"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	ResolvedAt       *time.Time      `json:"resolvedAt,omitempty"`
}

// HasAnomaly reports whether the incident references the anomaly id.
func (i Incident) HasAnomaly(id string) bool {
	for _, a := range i.RelatedAnomalies {
		if a == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand outside the owning store.
func (i Incident) Clone() Incident {
	out := i
	out.AffectedAssets = append([]string(nil), i.AffectedAssets...)
	out.RelatedAnomalies = append([]string(nil), i.RelatedAnomalies...)
	out.Timeline = append([]IncidentEvent(nil), i.Timeline...)
	if i.ResolvedAt != nil {
		t := *i.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}
