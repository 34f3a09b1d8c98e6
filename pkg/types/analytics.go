package types

import (
	"time"
)

// Severity levels shared by anomalies, incidents and findings.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severities lists severities from most to least severe.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
}

// Urgent reports whether the severity warrants an automated response.
func (s Severity) Urgent() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// Trend describes how a risk score moved relative to the previous one.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// RiskFactors are the four weighted inputs of an overall risk score.
type RiskFactors struct {
	Vulnerability int `json:"vulnerability"`
	Threat        int `json:"threat"`
	Compliance    int `json:"compliance"`
	Exposure      int `json:"exposure"`
}

// RiskScore is an immutable risk calculation. Later calculations supersede it.
type RiskScore struct {
	ID           string      `json:"id"`
	AssetID      string      `json:"assetId,omitempty"`
	Environment  Environment `json:"environment,omitempty"`
	Overall      int         `json:"overallScore"`
	Factors      RiskFactors `json:"factors"`
	Trend        Trend       `json:"trend"`
	CalculatedAt time.Time   `json:"calculatedAt"`
}

// AnomalyType classifies an anomaly.
type AnomalyType string

const (
	AnomalyNetwork       AnomalyType = "network"
	AnomalyBehavior      AnomalyType = "behavior"
	AnomalyConfiguration AnomalyType = "configuration"
	AnomalyAccess        AnomalyType = "access"
	AnomalyData          AnomalyType = "data"
)

// AnomalyTypes lists every anomaly type.
func AnomalyTypes() []AnomalyType {
	return []AnomalyType{AnomalyNetwork, AnomalyBehavior, AnomalyConfiguration, AnomalyAccess, AnomalyData}
}

// AnomalyStatus is the analyst-facing lifecycle of an anomaly.
type AnomalyStatus string

const (
	AnomalyNew           AnomalyStatus = "new"
	AnomalyInvestigating AnomalyStatus = "investigating"
	AnomalyResolved      AnomalyStatus = "resolved"
	AnomalyFalsePositive AnomalyStatus = "false_positive"
)

// Valid reports whether s is a known anomaly status.
func (s AnomalyStatus) Valid() bool {
	switch s {
	case AnomalyNew, AnomalyInvestigating, AnomalyResolved, AnomalyFalsePositive:
		return true
	}
	return false
}

// Anomaly is a flagged record or pattern.
type Anomaly struct {
	ID             string        `json:"id"`
	AssetID        string        `json:"assetId,omitempty"`
	SourceID       string        `json:"sourceId,omitempty"`
	Type           AnomalyType   `json:"type"`
	Description    string        `json:"description"`
	Severity       Severity      `json:"severity"`
	Confidence     int           `json:"confidence"`
	RelatedRecords []string      `json:"relatedRecords"`
	Status         AnomalyStatus `json:"status"`
	DetectedAt     time.Time     `json:"detectedAt"`
}

// ComplianceStatus is the verdict of a control assessment.
type ComplianceStatus string

const (
	Compliant          ComplianceStatus = "compliant"
	NonCompliant       ComplianceStatus = "non_compliant"
	PartiallyCompliant ComplianceStatus = "partially_compliant"
	NotApplicable      ComplianceStatus = "not_applicable"
)

// ComplianceControl is one control of a compliance framework.
type ComplianceControl struct {
	ID           string           `json:"id" yaml:"id"`
	Framework    string           `json:"framework" yaml:"framework"`
	ControlID    string           `json:"controlId" yaml:"control_id"`
	Title        string           `json:"title" yaml:"title"`
	Status       ComplianceStatus `json:"status" yaml:"status"`
	LastAssessed time.Time        `json:"lastAssessed" yaml:"-"`
}

// ComplianceResult is the outcome of one compliance check.
type ComplianceResult struct {
	Control    *ComplianceControl `json:"control,omitempty"`
	Status     ComplianceStatus   `json:"status"`
	AssessedAt time.Time          `json:"assessedAt"`
}

// AnalyticsResult bundles the three analyses run for a processed batch.
type AnalyticsResult struct {
	SourceID    string             `json:"sourceId"`
	Environment Environment        `json:"environment"`
	SourceType  SourceType         `json:"sourceType"`
	RiskScores  []RiskScore        `json:"riskScores"`
	Anomalies   []Anomaly          `json:"anomalies"`
	Compliance  []ComplianceResult `json:"compliance"`
	AnalyzedAt  time.Time          `json:"analyzedAt"`
}
