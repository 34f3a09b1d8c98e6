package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserveFetch(t *testing.T) {
	before := testutil.ToFloat64(fetchesTotal.WithLabelValues("OT", OutcomeFailure))
	recordsBefore := testutil.ToFloat64(recordsIngestedTotal.WithLabelValues("OT"))

	ObserveFetch("OT", 5, true)
	ObserveFetch("OT", 0, false)

	assert.Equal(t, before+1, testutil.ToFloat64(fetchesTotal.WithLabelValues("OT", OutcomeFailure)))
	assert.Equal(t, recordsBefore+5, testutil.ToFloat64(recordsIngestedTotal.WithLabelValues("OT")))
}

func TestObserveExecutionAndRisk(t *testing.T) {
	before := testutil.ToFloat64(executionsTotal.WithLabelValues("playbook", OutcomeSuccess))
	ObserveExecution("playbook", true)
	assert.Equal(t, before+1, testutil.ToFloat64(executionsTotal.WithLabelValues("playbook", OutcomeSuccess)))

	SetRiskScore("Cloud", 42)
	assert.Equal(t, float64(42), testutil.ToFloat64(riskScore.WithLabelValues("Cloud")))

	ObserveStage("analytics", -time.Second)
	assert.Equal(t, 1, testutil.CollectAndCount(stageDurationSeconds, "secops_stage_seconds"))
}
