// Package api serves health, Prometheus metrics and a read-mostly JSON view
// of the pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lucid-vigil/secops/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// SourceLister lists registered data sources.
type SourceLister interface {
	Sources() []types.DataSource
}

// IncidentManager reads and advances incidents.
type IncidentManager interface {
	List() []types.Incident
	Get(id string) (types.Incident, error)
	UpdateStatus(id string, status types.IncidentStatus, user string) error
	Assign(id, assignee, user string) error
}

// AnalyticsReader exposes risk scores and anomalies.
type AnalyticsReader interface {
	RiskScores() []types.RiskScore
	Anomalies() []types.Anomaly
	Anomaly(id string) (types.Anomaly, error)
	UpdateAnomalyStatus(id string, status types.AnomalyStatus) error
}

// Server is the HTTP API.
type Server struct {
	sources   SourceLister
	incidents IncidentManager
	analytics AnalyticsReader
	gatherer  prometheus.Gatherer
	engine    *gin.Engine
	logger    zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer builds the router.
func NewServer(sources SourceLister, incidents IncidentManager, analytics AnalyticsReader, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		sources:   sources,
		incidents: incidents,
		analytics: analytics,
		gatherer:  prometheus.DefaultGatherer,
		logger:    logger.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := engine.Group("/api/v1")
	v1.GET("/sources", s.handleSources)
	v1.GET("/incidents", s.handleIncidents)
	v1.GET("/incidents/:id", s.handleIncident)
	v1.PUT("/incidents/:id/status", s.handleIncidentStatus)
	v1.PUT("/incidents/:id/assignee", s.handleIncidentAssignee)
	v1.GET("/risk-scores", s.handleRiskScores)
	v1.GET("/anomalies", s.handleAnomalies)
	v1.PUT("/anomalies/:id/status", s.handleAnomalyStatus)

	s.engine = engine
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("API server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Msg("API server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request served")
	}
}
