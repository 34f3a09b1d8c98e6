package pipeline

import (
	"context"
	"errors"
	"fmt"

	perrors "github.com/lucid-vigil/secops/pkg/errors"
	"github.com/lucid-vigil/secops/pkg/ingestion"
	"github.com/lucid-vigil/secops/pkg/store"
	"github.com/lucid-vigil/secops/pkg/types"
)

// persistenceSink writes stage output and every state change to the store.
// Each write is an upsert or an insert-if-absent, so redelivery is harmless.
type persistenceSink struct {
	store *store.Store
}

func (s *persistenceSink) persistSource(ctx context.Context, change ingestion.SourceChange) error {
	if change.Removed {
		err := s.store.DeleteDataSource(ctx, change.Source.ID)
		if errors.Is(err, perrors.ErrNotFound) {
			return nil
		}
		return err
	}
	_, err := s.store.SaveDataSource(ctx, change.Source)
	return err
}

func (s *persistenceSink) persistAnalytics(ctx context.Context, res types.AnalyticsResult) error {
	var errs []error
	for _, rs := range res.RiskScores {
		if _, err := s.store.SaveRiskScore(ctx, rs); err != nil {
			errs = append(errs, err)
		}
	}
	for _, a := range res.Anomalies {
		if _, err := s.store.SaveAnomaly(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *persistenceSink) persistAnomaly(ctx context.Context, a types.Anomaly) error {
	if _, err := s.store.SaveAnomaly(ctx, a); err != nil {
		return fmt.Errorf("persisting anomaly %s: %w", a.ID, err)
	}
	return nil
}

func (s *persistenceSink) persistIncident(ctx context.Context, inc types.Incident) error {
	if _, err := s.store.SaveIncident(ctx, inc); err != nil {
		return fmt.Errorf("persisting incident %s: %w", inc.ID, err)
	}
	return nil
}
