package orchestration

import (
	"context"
	"path/filepath"
	"testing"

	perrors "github.com/lucid-vigil/secops/pkg/errors"
	"github.com/lucid-vigil/secops/pkg/simulate"
	"github.com/lucid-vigil/secops/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedExecutor_Rates(t *testing.T) {
	always := NewSimulatedExecutor(simulate.New(1), 1)
	never := NewSimulatedExecutor(simulate.New(1), 0)
	for i := 0; i < 20; i++ {
		assert.True(t, always.Execute(context.Background(), "notify", nil).Success)
		res := never.Execute(context.Background(), "notify", nil)
		assert.False(t, res.Success)
		assert.Equal(t, ErrActionFailed.Error(), res.Message)
	}
}

func TestActionDispatcher_Disabled(t *testing.T) {
	c := NewContainment()
	ad := NewActionDispatcher(false, NewSimulatedExecutor(simulate.New(1), 0), c, zerolog.Nop())
	assert.False(t, ad.IsEnabled())

	res := ad.Execute(context.Background(), "isolate_host", map[string]interface{}{"asset_id": "plc-01"})
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "dry run")
	assert.Empty(t, c.IsolatedHosts())

	ad.SetEnabled(true)
	assert.True(t, ad.IsEnabled())
	assert.False(t, ad.Execute(context.Background(), "isolate_host", nil).Success)
}

func TestActionDispatcher_RateLimit(t *testing.T) {
	ad := NewActionDispatcher(true, NewSimulatedExecutor(simulate.New(1), 1), nil, zerolog.Nop(), WithRateLimit(0.001, 2))

	assert.True(t, ad.Execute(context.Background(), "notify", nil).Success)
	assert.True(t, ad.Execute(context.Background(), "notify", nil).Success)
	throttled := ad.Execute(context.Background(), "notify", nil)
	assert.False(t, throttled.Success)
	assert.Equal(t, ErrThrottled.Error(), throttled.Message)

	// Limits are per action name.
	assert.True(t, ad.Execute(context.Background(), "log_event", nil).Success)
}

func TestActionDispatcher_RegisteredActions(t *testing.T) {
	c := NewContainment()
	ad := NewActionDispatcher(true, NewSimulatedExecutor(simulate.New(1), 1), c, zerolog.Nop())

	tests := []struct {
		name    string
		action  string
		params  map[string]interface{}
		success bool
	}{
		{"block valid ip", "block_ip", map[string]interface{}{"ip": "203.0.113.7"}, true},
		{"block bad ip", "block_ip", map[string]interface{}{"ip": "not-an-ip"}, false},
		{"block missing ip", "block_ip", map[string]interface{}{}, false},
		{"isolate asset", "isolate_host", map[string]interface{}{"asset_id": "ws-001"}, true},
		{"isolate by source", "isolate_host", map[string]interface{}{"asset_id": "", "source_id": "edr-1"}, true},
		{"isolate nothing", "isolate_host", map[string]interface{}{}, false},
		{"unregistered", "notify", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ad.Execute(context.Background(), tt.action, tt.params)
			assert.Equal(t, tt.success, res.Success)
			assert.Equal(t, tt.action, res.Action)
			assert.False(t, res.Timestamp.IsZero())
		})
	}

	assert.Equal(t, []string{"203.0.113.7"}, c.BlockedIPs())
	assert.Equal(t, []string{"edr-1", "ws-001"}, c.IsolatedHosts())
}

func TestDefaultDefinitions(t *testing.T) {
	defs := DefaultDefinitions()
	names := map[string]types.Playbook{}
	for _, pb := range defs.Playbooks {
		names[pb.Name] = pb
	}
	require.Contains(t, names, "Ransomware Response")
	require.Contains(t, names, "Unauthorized Access Response")
	require.Contains(t, names, "OT Network Isolation")
	require.Contains(t, names, "Compliance Remediation")

	ransomware := names["Ransomware Response"]
	for _, typ := range []types.AnomalyType{types.AnomalyNetwork, types.AnomalyBehavior} {
		for _, sev := range []types.Severity{types.SeverityCritical, types.SeverityHigh} {
			assert.True(t, ransomware.MatchesAnomaly(types.Anomaly{Type: typ, Severity: sev}))
		}
	}
	assert.True(t, ransomware.Steps[0].Critical)
	assert.True(t, names["Compliance Remediation"].MatchesFramework("IEC 62443"))
	assert.Equal(t, "soc-critical", ransomware.Steps[3].Params["channel"])

	envs := map[string]bool{}
	for _, p := range defs.Policies {
		envs[p.Environment] = true
	}
	assert.Equal(t, map[string]bool{"OT": true, "IT": true, "all": true}, envs)
}

func TestLoadDefinitions(t *testing.T) {
	defs, err := LoadDefinitions(filepath.Join("testdata", "custom.yaml"))
	require.NoError(t, err)
	require.Len(t, defs.Playbooks, 1)
	assert.Equal(t, "203.0.113.7", defs.Playbooks[0].Steps[0].Params["ip"])
	require.Len(t, defs.Policies, 1)
	assert.False(t, defs.Policies[0].Rules[1].Active)

	_, err = LoadDefinitions(filepath.Join("testdata", "invalid.yaml"))
	assert.ErrorIs(t, err, perrors.ErrInvalid)

	_, err = LoadDefinitions(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseDefinitions([]byte("playbooks: [unterminated"))
	assert.Error(t, err)
}

func TestLoadedPlaybookDrivesContainment(t *testing.T) {
	defs, err := LoadDefinitions(filepath.Join("testdata", "custom.yaml"))
	require.NoError(t, err)

	c := NewContainment()
	s := New(zerolog.Nop(),
		WithDefinitions(defs),
		WithContainment(c),
		WithExecutor(NewActionDispatcher(true, NewSimulatedExecutor(simulate.New(1), 1), c, zerolog.Nop())),
		WithConditionEvaluator(never),
	)

	res := types.AnalyticsResult{
		Environment: types.EnvironmentCloud,
		Anomalies:   []types.Anomaly{{ID: "a1", Type: types.AnomalyAccess, Severity: types.SeverityCritical}},
	}
	results := s.Orchestrate(context.Background(), res)
	require.Len(t, results, 1)
	assert.Equal(t, "Leaked Key Response", results[0].Name)
	assert.True(t, results[0].Success)
	assert.Equal(t, []string{"203.0.113.7"}, c.BlockedIPs())
}
