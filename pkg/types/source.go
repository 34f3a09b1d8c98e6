// Package types holds the data model shared by every pipeline stage and the
// persistence layer.
package types

import (
	"time"
)

// Environment is the top-level deployment context of a source or asset.
type Environment string

const (
	EnvironmentIT    Environment = "IT"
	EnvironmentOT    Environment = "OT"
	EnvironmentCloud Environment = "Cloud"
)

// Environments lists every known environment in a stable order.
func Environments() []Environment {
	return []Environment{EnvironmentIT, EnvironmentOT, EnvironmentCloud}
}

// Valid reports whether e is one of the known environments.
func (e Environment) Valid() bool {
	switch e {
	case EnvironmentIT, EnvironmentOT, EnvironmentCloud:
		return true
	}
	return false
}

// SourceType is the category of feed a data source produces.
type SourceType string

const (
	SourceSIEM          SourceType = "siem"
	SourceEDR           SourceType = "edr"
	SourceFirewall      SourceType = "firewall"
	SourceIDS           SourceType = "ids"
	SourceSCADA         SourceType = "scada"
	SourcePLC           SourceType = "plc"
	SourceHistorian     SourceType = "historian"
	SourceCloudTrail    SourceType = "cloudtrail"
	SourceCSPM          SourceType = "cspm"
	SourceVulnScanner   SourceType = "vulnerability_scanner"
	SourceEndpointAgent SourceType = "endpoint"
)

// SourceStatus is the operational status of a data source.
type SourceStatus string

const (
	SourceActive   SourceStatus = "active"
	SourceInactive SourceStatus = "inactive"
	SourceError    SourceStatus = "error"
)

// DataSource is a registered feed polled by the ingestion stage.
type DataSource struct {
	ID              string                 `json:"id" validate:"required"`
	Name            string                 `json:"name" validate:"required"`
	Type            SourceType             `json:"type" validate:"required"`
	Environment     Environment            `json:"environment" validate:"required,oneof=IT OT Cloud"`
	Connection      map[string]interface{} `json:"connection,omitempty"`
	Status          SourceStatus           `json:"status" validate:"required,oneof=active inactive error"`
	PollingInterval int                    `json:"pollingInterval" validate:"gte=0"` // seconds
	LastSyncTime    *time.Time             `json:"lastSyncTime,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// Interval returns the polling interval as a duration.
func (s DataSource) Interval() time.Duration {
	return time.Duration(s.PollingInterval) * time.Second
}

// Pollable reports whether the source should have a running collection task.
func (s DataSource) Pollable() bool {
	return s.Status == SourceActive && s.PollingInterval > 0
}

// RawRecord is one record as fetched from a source, before normalization.
type RawRecord struct {
	ID        string                 `json:"id"`
	SourceID  string                 `json:"sourceId"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// IngestionBatch is what a single collection tick emits.
type IngestionBatch struct {
	SourceID  string      `json:"sourceId"`
	Records   []RawRecord `json:"records"`
	FetchedAt time.Time   `json:"fetchedAt"`
}

// NormalizedRecord is the canonical record shape produced by processing.
type NormalizedRecord struct {
	ID          string                            `json:"id"`
	Timestamp   time.Time                         `json:"timestamp"`
	SourceID    string                            `json:"sourceId"`
	SourceType  SourceType                        `json:"sourceType"`
	Environment Environment                       `json:"environment"`
	Data        map[string]interface{}            `json:"data"`
	Enrichments map[string]map[string]interface{} `json:"enrichments,omitempty"`
}

// WithEnrichment returns a copy of r carrying an extra annotation under name.
// The receiver is left untouched.
func (r NormalizedRecord) WithEnrichment(name string, annotation map[string]interface{}) NormalizedRecord {
	enrichments := make(map[string]map[string]interface{}, len(r.Enrichments)+1)
	for k, v := range r.Enrichments {
		enrichments[k] = v
	}
	enrichments[name] = annotation
	r.Enrichments = enrichments
	return r
}

// ProcessedBatch is the processing stage output for one ingestion batch.
type ProcessedBatch struct {
	SourceID        string             `json:"sourceId"`
	Environment     Environment        `json:"environment"`
	SourceType      SourceType         `json:"sourceType"`
	Records         []NormalizedRecord `json:"records"`
	OriginalCount   int                `json:"originalCount"`
	NormalizedCount int                `json:"normalizedCount"`
	EnrichedCount   int                `json:"enrichedCount"`
	ProcessedAt     time.Time          `json:"processedAt"`
}
