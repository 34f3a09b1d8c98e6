package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lucid-vigil/secops/pkg/simulate"
	"github.com/lucid-vigil/secops/pkg/types"
)

// Weights are the factor multipliers of an overall risk score.
type Weights struct {
	Vulnerability float64
	Threat        float64
	Compliance    float64
	Exposure      float64
}

// DefaultWeights is the 0.3/0.3/0.2/0.2 split of the default engine.
var DefaultWeights = Weights{Vulnerability: 0.3, Threat: 0.3, Compliance: 0.2, Exposure: 0.2}

// Overall combines factors into a score clamped and rounded to [0,100].
func (w Weights) Overall(f types.RiskFactors) int {
	v := w.Vulnerability*float64(f.Vulnerability) +
		w.Threat*float64(f.Threat) +
		w.Compliance*float64(f.Compliance) +
		w.Exposure*float64(f.Exposure)
	return clamp(int(v+0.5), 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RiskEngine derives risk factors for the records of one environment.
type RiskEngine interface {
	Factors(ctx context.Context, env types.Environment, records []types.NormalizedRecord) types.RiskFactors
	Weights() Weights
}

// AnomalyDetector flags anomalous records.
type AnomalyDetector interface {
	Detect(ctx context.Context, batch types.ProcessedBatch) []types.Anomaly
}

// ComplianceMonitor assesses controls against a batch.
type ComplianceMonitor interface {
	Check(ctx context.Context, batch types.ProcessedBatch) []types.ComplianceResult
}

// Range is an inclusive integer interval.
type Range struct{ Min, Max int }

// FactorRanges bound each simulated factor.
type FactorRanges struct {
	Vulnerability Range
	Threat        Range
	Compliance    Range
	Exposure      Range
}

// SimulatedRiskEngine draws factors uniformly from its ranges.
type SimulatedRiskEngine struct {
	Rand   *simulate.Source
	Ranges FactorRanges
	W      Weights
}

func (e *SimulatedRiskEngine) Factors(_ context.Context, _ types.Environment, _ []types.NormalizedRecord) types.RiskFactors {
	draw := func(r Range) int { return clamp(e.Rand.Between(r.Min, r.Max), 0, 100) }
	return types.RiskFactors{
		Vulnerability: draw(e.Ranges.Vulnerability),
		Threat:        draw(e.Ranges.Threat),
		Compliance:    draw(e.Ranges.Compliance),
		Exposure:      draw(e.Ranges.Exposure),
	}
}

func (e *SimulatedRiskEngine) Weights() Weights { return e.W }

// NewDefaultRiskEngine is the fallback engine.
func NewDefaultRiskEngine(rng *simulate.Source) *SimulatedRiskEngine {
	full := Range{0, 100}
	return &SimulatedRiskEngine{
		Rand:   rng,
		Ranges: FactorRanges{Vulnerability: full, Threat: full, Compliance: full, Exposure: full},
		W:      DefaultWeights,
	}
}

// NewITRiskEngine weights vulnerabilities highest.
func NewITRiskEngine(rng *simulate.Source) *SimulatedRiskEngine {
	return &SimulatedRiskEngine{
		Rand: rng,
		Ranges: FactorRanges{
			Vulnerability: Range{30, 90},
			Threat:        Range{20, 80},
			Compliance:    Range{10, 60},
			Exposure:      Range{20, 70},
		},
		W: Weights{Vulnerability: 0.35, Threat: 0.3, Compliance: 0.15, Exposure: 0.2},
	}
}

// NewOTRiskEngine weights threat and exposure highest.
func NewOTRiskEngine(rng *simulate.Source) *SimulatedRiskEngine {
	return &SimulatedRiskEngine{
		Rand: rng,
		Ranges: FactorRanges{
			Vulnerability: Range{40, 90},
			Threat:        Range{30, 90},
			Compliance:    Range{20, 70},
			Exposure:      Range{50, 100},
		},
		W: Weights{Vulnerability: 0.2, Threat: 0.35, Compliance: 0.1, Exposure: 0.35},
	}
}

// NewCloudRiskEngine weights the four factors evenly.
func NewCloudRiskEngine(rng *simulate.Source) *SimulatedRiskEngine {
	return &SimulatedRiskEngine{
		Rand: rng,
		Ranges: FactorRanges{
			Vulnerability: Range{20, 70},
			Threat:        Range{20, 80},
			Compliance:    Range{30, 90},
			Exposure:      Range{30, 90},
		},
		W: Weights{Vulnerability: 0.25, Threat: 0.25, Compliance: 0.25, Exposure: 0.25},
	}
}

// SimulatedDetector flags each record with probability Rate.
type SimulatedDetector struct {
	Rand *simulate.Source
	Rate float64
}

// NewSimulatedDetector returns a detector flagging records at rate.
func NewSimulatedDetector(rng *simulate.Source, rate float64) *SimulatedDetector {
	return &SimulatedDetector{Rand: rng, Rate: rate}
}

func (d *SimulatedDetector) Detect(_ context.Context, batch types.ProcessedBatch) []types.Anomaly {
	var out []types.Anomaly
	now := time.Now().UTC()
	for _, r := range batch.Records {
		if !d.Rand.Chance(d.Rate) {
			continue
		}
		kind := simulate.Pick(d.Rand, types.AnomalyTypes())
		out = append(out, types.Anomaly{
			ID:             uuid.New().String(),
			AssetID:        assetOf(r),
			SourceID:       r.SourceID,
			Type:           kind,
			Description:    fmt.Sprintf("Unusual %s activity on %s source %s", kind, r.Environment, r.SourceID),
			Severity:       simulate.Pick(d.Rand, types.Severities()),
			Confidence:     d.Rand.Between(70, 100),
			RelatedRecords: []string{r.ID},
			Status:         types.AnomalyNew,
			DetectedAt:     now,
		})
	}
	return out
}

func assetOf(r types.NormalizedRecord) string {
	if ctx, ok := r.Enrichments["asset_context"]; ok {
		if asset, ok := ctx["asset"].(string); ok {
			return asset
		}
	}
	return ""
}

// SimulatedComplianceMonitor assesses one random control of the
// environment's catalog with probability Rate per batch.
type SimulatedComplianceMonitor struct {
	Rand *simulate.Source
	Rate float64
}

// NewSimulatedComplianceMonitor returns a monitor assessing at rate.
func NewSimulatedComplianceMonitor(rng *simulate.Source, rate float64) *SimulatedComplianceMonitor {
	return &SimulatedComplianceMonitor{Rand: rng, Rate: rate}
}

func (m *SimulatedComplianceMonitor) Check(_ context.Context, batch types.ProcessedBatch) []types.ComplianceResult {
	if len(batch.Records) == 0 || !m.Rand.Chance(m.Rate) {
		return nil
	}
	controls := CatalogFor(batch.Environment)
	if len(controls) == 0 {
		return nil
	}

	now := time.Now().UTC()
	control := simulate.Pick(m.Rand, controls)
	status := types.Compliant
	if m.Rand.Chance(0.5) {
		status = types.NonCompliant
	}
	control.Status = status
	control.LastAssessed = now
	return []types.ComplianceResult{{Control: &control, Status: status, AssessedAt: now}}
}
