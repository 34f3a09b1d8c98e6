package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	perrors "github.com/lucid-vigil/secops/pkg/errors"
	"github.com/lucid-vigil/secops/pkg/types"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Sources int    `json:"sources"`
}

// StatusRequest changes an incident or anomaly status.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
	User   string `json:"user"`
}

// AssignRequest assigns an incident.
type AssignRequest struct {
	Assignee string `json:"assignee" binding:"required"`
	User     string `json:"user"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Sources: len(s.sources.Sources())})
}

func (s *Server) handleSources(c *gin.Context) {
	env := types.Environment(c.Query("environment"))
	out := []types.DataSource{}
	for _, src := range s.sources.Sources() {
		if env == "" || src.Environment == env {
			out = append(out, src)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleIncidents(c *gin.Context) {
	status := types.IncidentStatus(c.Query("status"))
	out := []types.Incident{}
	for _, inc := range s.incidents.List() {
		if status == "" || inc.Status == status {
			out = append(out, inc)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleIncident(c *gin.Context) {
	inc, err := s.incidents.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (s *Server) handleIncidentStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "bad_request"})
		return
	}
	id := c.Param("id")
	if err := s.incidents.UpdateStatus(id, types.IncidentStatus(req.Status), req.User); err != nil {
		s.fail(c, err)
		return
	}
	s.handleIncident(c)
}

func (s *Server) handleIncidentAssignee(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "bad_request"})
		return
	}
	if err := s.incidents.Assign(c.Param("id"), req.Assignee, req.User); err != nil {
		s.fail(c, err)
		return
	}
	s.handleIncident(c)
}

func (s *Server) handleRiskScores(c *gin.Context) {
	env := types.Environment(c.Query("environment"))
	out := []types.RiskScore{}
	for _, rs := range s.analytics.RiskScores() {
		if env == "" || rs.Environment == env {
			out = append(out, rs)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleAnomalies(c *gin.Context) {
	status := types.AnomalyStatus(c.Query("status"))
	severity := types.Severity(c.Query("severity"))
	out := []types.Anomaly{}
	for _, a := range s.analytics.Anomalies() {
		if status != "" && a.Status != status {
			continue
		}
		if severity != "" && a.Severity != severity {
			continue
		}
		out = append(out, a)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleAnomalyStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "bad_request"})
		return
	}
	id := c.Param("id")
	if err := s.analytics.UpdateAnomalyStatus(id, types.AnomalyStatus(req.Status)); err != nil {
		s.fail(c, err)
		return
	}
	a, err := s.analytics.Anomaly(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// fail maps pipeline errors onto HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, perrors.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, perrors.ErrInvalid):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "invalid"})
	default:
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal"})
	}
}
