package store

import (
	"context"
	"fmt"
	"time"

	perrors "github.com/lucid-vigil/secops/pkg/errors"
	"github.com/lucid-vigil/secops/pkg/types"
)

var riskScores = mapper[types.RiskScore]{
	table:  "risk_scores",
	entity: "risk score",
	columns: []string{"id", "asset_id", "environment", "overall_score", "factors", "trend",
		"calculated_at", "created_at", "updated_at"},
	order: "calculated_at, id",
	id:    func(v *types.RiskScore) string { return v.ID },
	args: func(v *types.RiskScore, now time.Time) ([]any, error) {
		factors, err := toJSON(v.Factors)
		if err != nil {
			return nil, err
		}
		if v.CalculatedAt.IsZero() {
			v.CalculatedAt = now
		}
		return []any{v.ID, v.AssetID, string(v.Environment), v.Overall, factors, string(v.Trend),
			ts(v.CalculatedAt), ts(now), ts(now)}, nil
	},
	scan: func(r rowScanner) (types.RiskScore, error) {
		var (
			v               types.RiskScore
			factors, calcAt string
			tc              timeCols
		)
		dest := []any{&v.ID, &v.AssetID, &v.Environment, &v.Overall, &factors, &v.Trend, &calcAt}
		if err := r.Scan(append(dest, tc.dest()...)...); err != nil {
			return v, err
		}
		if err := fromJSON(factors, &v.Factors); err != nil {
			return v, err
		}
		var err error
		v.CalculatedAt, err = parseTS(calcAt)
		return v, err
	},
}

var anomalies = mapper[types.Anomaly]{
	table:  "anomalies",
	entity: "anomaly",
	columns: []string{"id", "asset_id", "source_id", "type", "description", "severity", "confidence",
		"related_records", "status", "detected_at", "created_at", "updated_at"},
	order: "detected_at, id",
	id:    func(v *types.Anomaly) string { return v.ID },
	args: func(v *types.Anomaly, now time.Time) ([]any, error) {
		related, err := toJSON(orEmptySlice(v.RelatedRecords))
		if err != nil {
			return nil, err
		}
		if v.Status == "" {
			v.Status = types.AnomalyNew
		}
		if v.DetectedAt.IsZero() {
			v.DetectedAt = now
		}
		return []any{v.ID, v.AssetID, v.SourceID, string(v.Type), v.Description, string(v.Severity),
			v.Confidence, related, string(v.Status), ts(v.DetectedAt), ts(now), ts(now)}, nil
	},
	scan: func(r rowScanner) (types.Anomaly, error) {
		var (
			v                 types.Anomaly
			related, detected string
			tc                timeCols
		)
		dest := []any{&v.ID, &v.AssetID, &v.SourceID, &v.Type, &v.Description, &v.Severity,
			&v.Confidence, &related, &v.Status, &detected}
		if err := r.Scan(append(dest, tc.dest()...)...); err != nil {
			return v, err
		}
		if err := fromJSON(related, &v.RelatedRecords); err != nil {
			return v, err
		}
		var err error
		v.DetectedAt, err = parseTS(detected)
		return v, err
	},
}

// SaveRiskScore stores a calculated score. Scores are immutable, so saving
// the same id twice keeps the latest copy.
func (s *Store) SaveRiskScore(ctx context.Context, rs types.RiskScore) (types.RiskScore, error) {
	return upsert(ctx, s, riskScores, rs)
}

func (s *Store) GetRiskScore(ctx context.Context, id string) (types.RiskScore, error) {
	return get(ctx, s, riskScores, id)
}

// ListRiskScores returns scores in calculation order, optionally for one
// environment.
func (s *Store) ListRiskScores(ctx context.Context, env types.Environment) ([]types.RiskScore, error) {
	if env == "" {
		return list(ctx, s, riskScores, "", nil)
	}
	return list(ctx, s, riskScores, "environment", string(env))
}

func (s *Store) DeleteRiskScore(ctx context.Context, id string) error {
	return remove(ctx, s, riskScores, id)
}

// SaveAnomaly inserts or replaces an anomaly.
func (s *Store) SaveAnomaly(ctx context.Context, a types.Anomaly) (types.Anomaly, error) {
	return upsert(ctx, s, anomalies, a)
}

func (s *Store) GetAnomaly(ctx context.Context, id string) (types.Anomaly, error) {
	return get(ctx, s, anomalies, id)
}

// ListAnomalies returns anomalies in detection order, optionally with one status.
func (s *Store) ListAnomalies(ctx context.Context, status types.AnomalyStatus) ([]types.Anomaly, error) {
	if status == "" {
		return list(ctx, s, anomalies, "", nil)
	}
	return list(ctx, s, anomalies, "status", string(status))
}

func (s *Store) UpdateAnomaly(ctx context.Context, a types.Anomaly) (types.Anomaly, error) {
	return update(ctx, s, anomalies, a)
}

// UpdateAnomalyStatus changes only the status column.
func (s *Store) UpdateAnomalyStatus(ctx context.Context, id string, status types.AnomalyStatus) (types.Anomaly, error) {
	if !status.Valid() {
		return types.Anomaly{}, perrors.NewValidationError("store", fmt.Errorf("invalid anomaly status %q", status))
	}
	db, err := s.conn("UpdateAnomalyStatus")
	if err != nil {
		return types.Anomaly{}, err
	}
	res, err := db.ExecContext(ctx, "UPDATE anomalies SET status = ?, updated_at = ? WHERE id = ?",
		string(status), ts(s.now()), id)
	if err != nil {
		return types.Anomaly{}, fmt.Errorf("updating anomaly %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Anomaly{}, perrors.NewNotFoundError("store", "anomaly", id)
	}
	return s.GetAnomaly(ctx, id)
}

func (s *Store) DeleteAnomaly(ctx context.Context, id string) error {
	return remove(ctx, s, anomalies, id)
}
