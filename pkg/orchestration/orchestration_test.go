package orchestration

import (
	"context"
	"sync"
	"testing"
	"time"

	perrors "github.com/lucid-vigil/secops/pkg/errors"
	"github.com/lucid-vigil/secops/pkg/simulate"
	"github.com/lucid-vigil/secops/pkg/testutil"
	"github.com/lucid-vigil/secops/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func ok(action string) types.ActionResult {
	return testutil.Succeeded(action)
}

func failed(action string) types.ActionResult {
	return testutil.Failed(action, ErrActionFailed.Error())
}

var never = ConditionFunc(func(context.Context, types.Policy, types.PolicyRule, types.AnalyticsResult) bool { return false })
var always = ConditionFunc(func(context.Context, types.Policy, types.PolicyRule, types.AnalyticsResult) bool { return true })

func alwaysSucceeds(c *Containment) ActionExecutor {
	return NewActionDispatcher(true, NewSimulatedExecutor(simulate.New(1), 1), c, zerolog.Nop())
}

func anomalyResult(anomalies ...types.Anomaly) types.AnalyticsResult {
	return types.AnalyticsResult{
		SourceID:    "fw-1",
		Environment: types.EnvironmentIT,
		SourceType:  types.SourceFirewall,
		Anomalies:   anomalies,
		AnalyzedAt:  time.Now(),
	}
}

func criticalNetwork() types.Anomaly {
	return types.Anomaly{
		ID:             "anom-1",
		AssetID:        "ws-042",
		SourceID:       "fw-1",
		Type:           types.AnomalyNetwork,
		Severity:       types.SeverityCritical,
		Confidence:     92,
		RelatedRecords: []string{"rec-1"},
		Status:         types.AnomalyNew,
		DetectedAt:     time.Now(),
	}
}

func TestOrchestrate_RansomwareResponse(t *testing.T) {
	c := NewContainment()
	s := New(zerolog.Nop(), WithExecutor(alwaysSucceeds(c)), WithContainment(c), WithConditionEvaluator(never))

	results := s.Orchestrate(context.Background(), anomalyResult(criticalNetwork()))
	require.Len(t, results, 1)

	run := results[0]
	assert.Equal(t, types.ExecutionPlaybook, run.Type)
	assert.Equal(t, "Ransomware Response", run.Name)
	assert.True(t, run.Success)
	assert.Len(t, run.Actions, 4)
	assert.Equal(t, "anom-1", run.Context["anomaly_id"])
	assert.False(t, run.EndedAt.Before(run.StartedAt))
	require.NotEmpty(t, run.IncidentID)

	inc, err := s.Incidents().Get(run.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, types.SeverityCritical, inc.Severity)
	assert.Equal(t, types.IncidentNew, inc.Status)
	assert.Contains(t, inc.RelatedAnomalies, "anom-1")
	assert.Equal(t, []string{"ws-042"}, inc.AffectedAssets)
	require.Len(t, inc.Timeline, 2)
	assert.Equal(t, types.EventCreated, inc.Timeline[0].Type)
	assert.Equal(t, types.EventPlaybook, inc.Timeline[1].Type)

	assert.Equal(t, []string{"ws-042"}, s.Containment().IsolatedHosts())
}

func TestOrchestrate_RedeliveryReusesIncident(t *testing.T) {
	s := New(zerolog.Nop(), WithExecutor(alwaysSucceeds(NewContainment())), WithConditionEvaluator(never))
	res := anomalyResult(criticalNetwork())

	first := s.Orchestrate(context.Background(), res)
	second := s.Orchestrate(context.Background(), res)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].IncidentID, second[0].IncidentID)

	all := s.Incidents().List()
	require.Len(t, all, 1)
	tl := all[0].Timeline
	require.Len(t, tl, 3)
	assert.Equal(t, types.EventPlaybook, tl[2].Type)
	for i := 1; i < len(tl); i++ {
		assert.False(t, tl[i].Timestamp.Before(tl[i-1].Timestamp))
	}
}

func TestOrchestrate_SkipsNonUrgentAndUnmatched(t *testing.T) {
	s := New(zerolog.Nop(), WithExecutor(alwaysSucceeds(NewContainment())), WithConditionEvaluator(never))

	low := criticalNetwork()
	low.ID, low.Severity = "anom-low", types.SeverityMedium
	unmatched := criticalNetwork()
	unmatched.ID, unmatched.Type, unmatched.Severity = "anom-cfg", types.AnomalyConfiguration, types.SeverityHigh

	assert.Empty(t, s.Orchestrate(context.Background(), anomalyResult(low, unmatched)))
	assert.Empty(t, s.Incidents().List())
}

func TestOrchestrate_CriticalStepHalts(t *testing.T) {
	exec := new(testutil.MockExecutor)
	exec.On("Execute", mock.Anything, "isolate_host", mock.Anything).Return(failed("isolate_host")).Once()
	s := New(zerolog.Nop(), WithExecutor(exec), WithConditionEvaluator(never))

	results := s.Orchestrate(context.Background(), anomalyResult(criticalNetwork()))
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Len(t, results[0].Actions, 1)
	exec.AssertExpectations(t)
	exec.AssertNumberOfCalls(t, "Execute", 1)

	// The anomaly still gets an incident recording the failed run.
	inc, found := s.Incidents().FindByAnomaly("anom-1")
	require.True(t, found)
	assert.Contains(t, inc.Timeline[1].Description, "failed")
}

func TestOrchestrate_NonCriticalFailureContinues(t *testing.T) {
	exec := new(testutil.MockExecutor)
	exec.On("Execute", mock.Anything, "collect_forensics", mock.Anything).Return(failed("collect_forensics"))
	exec.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(ok("step"))
	s := New(zerolog.Nop(), WithExecutor(exec), WithConditionEvaluator(never))

	results := s.Orchestrate(context.Background(), anomalyResult(criticalNetwork()))
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Len(t, results[0].Actions, 4)
	exec.AssertNumberOfCalls(t, "Execute", 4)
}

func TestOrchestrate_ComplianceFindings(t *testing.T) {
	s := New(zerolog.Nop(), WithExecutor(alwaysSucceeds(NewContainment())), WithConditionEvaluator(never))

	nist := types.ComplianceControl{ID: "nist-pr-ac-1", Framework: "NIST CSF", ControlID: "PR.AC-1"}
	cis := types.ComplianceControl{ID: "cis-4", Framework: "CIS", ControlID: "CIS 4"}
	res := types.AnalyticsResult{
		SourceID:    "siem-1",
		Environment: types.EnvironmentIT,
		Compliance: []types.ComplianceResult{
			{Control: &nist, Status: types.NonCompliant},
			{Control: &nist, Status: types.Compliant},
			{Control: &cis, Status: types.NonCompliant},
			{Control: nil, Status: types.NonCompliant},
		},
	}

	results := s.Orchestrate(context.Background(), res)
	require.Len(t, results, 1)
	assert.Equal(t, "Compliance Remediation", results[0].Name)
	assert.Equal(t, "nist-pr-ac-1", results[0].Context["control_id"])
	assert.Empty(t, results[0].IncidentID)
	assert.Empty(t, s.Incidents().List())
}

func TestOrchestrate_Policies(t *testing.T) {
	s := New(zerolog.Nop(), WithExecutor(alwaysSucceeds(NewContainment())), WithConditionEvaluator(always))

	tests := []struct {
		env  types.Environment
		want int
	}{
		{types.EnvironmentOT, 3},
		{types.EnvironmentIT, 2},
		{types.EnvironmentCloud, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.env), func(t *testing.T) {
			results := s.Orchestrate(context.Background(), types.AnalyticsResult{SourceID: "src", Environment: tt.env})
			require.Len(t, results, tt.want)
			for _, r := range results {
				assert.Equal(t, types.ExecutionPolicy, r.Type)
				assert.True(t, r.Success)
				assert.NotEmpty(t, r.Actions)
			}
		})
	}
}

func TestOrchestrate_PolicyActionsIndependent(t *testing.T) {
	exec := new(testutil.MockExecutor)
	exec.On("Execute", mock.Anything, "alert_operator", mock.Anything).Return(failed("alert_operator"))
	exec.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(ok("any"))

	defs := Definitions{Policies: []types.Policy{{
		ID: "p", Name: "OT Safety", Environment: "OT", Active: true,
		Rules: []types.PolicyRule{{ID: "r", Actions: []string{"alert_operator", "log_event"}, Active: true}},
	}}}
	s := New(zerolog.Nop(), WithExecutor(exec), WithConditionEvaluator(always), WithDefinitions(defs))

	results := s.Orchestrate(context.Background(), types.AnalyticsResult{Environment: types.EnvironmentOT})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	require.Len(t, results[0].Actions, 2)
	assert.True(t, results[0].Actions[1].Success)
}

func TestHandleResult_Publishes(t *testing.T) {
	s := New(zerolog.Nop(), WithExecutor(alwaysSucceeds(NewContainment())), WithConditionEvaluator(never))
	var got []types.OrchestrationResult
	s.Subscribe(func(types.OrchestrationResult) { panic("subscriber exploded") })
	s.Subscribe(func(r types.OrchestrationResult) { got = append(got, r) })

	require.NoError(t, s.HandleResult(context.Background(), anomalyResult(criticalNetwork())))
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].IncidentID)
}

func TestIncidentStore_ConcurrentLookupOrCreate(t *testing.T) {
	store := NewIncidentStore()
	a := criticalNetwork()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inc, _ := store.LookupOrCreate(a, func() types.Incident {
				return types.Incident{Title: "t", Severity: a.Severity}
			})
			ids[i] = inc.ID
		}(i)
	}
	wg.Wait()

	require.Len(t, store.List(), 1)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestIncidentStore_StatusTransitions(t *testing.T) {
	store := NewIncidentStore()
	inc, created := store.LookupOrCreate(criticalNetwork(), func() types.Incident { return types.Incident{Title: "t"} })
	require.True(t, created)

	require.NoError(t, store.Assign(inc.ID, "analyst-1", "lead"))
	got, _ := store.Get(inc.ID)
	assert.Equal(t, types.IncidentAssigned, got.Status)
	assert.Equal(t, "analyst-1", got.Assignee)

	// Skipping forward is allowed.
	require.NoError(t, store.UpdateStatus(inc.ID, types.IncidentContained, "analyst-1"))
	assert.ErrorIs(t, store.UpdateStatus(inc.ID, types.IncidentInvestigating, "analyst-1"), perrors.ErrInvalid)
	assert.ErrorIs(t, store.UpdateStatus(inc.ID, types.IncidentContained, "analyst-1"), perrors.ErrInvalid)

	require.NoError(t, store.UpdateStatus(inc.ID, types.IncidentResolved, "analyst-1"))
	got, _ = store.Get(inc.ID)
	require.NotNil(t, got.ResolvedAt)
	resolvedAt := *got.ResolvedAt

	require.NoError(t, store.UpdateStatus(inc.ID, types.IncidentClosed, "lead"))
	got, _ = store.Get(inc.ID)
	assert.Equal(t, resolvedAt, *got.ResolvedAt)
	assert.Equal(t, types.IncidentClosed, got.Status)

	// Reassigning after triage leaves the status alone.
	require.NoError(t, store.Assign(inc.ID, "analyst-2", "lead"))
	got, _ = store.Get(inc.ID)
	assert.Equal(t, types.IncidentClosed, got.Status)

	assert.ErrorIs(t, store.UpdateStatus("missing", types.IncidentClosed, ""), perrors.ErrNotFound)
	assert.ErrorIs(t, store.Assign(inc.ID, "", "lead"), perrors.ErrInvalid)
	_, err := store.Get("missing")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestIncidentStore_AssignRecordsStatusChange(t *testing.T) {
	store := NewIncidentStore()
	inc, _ := store.LookupOrCreate(criticalNetwork(), func() types.Incident { return types.Incident{Title: "t"} })

	require.NoError(t, store.Assign(inc.ID, "analyst-1", "lead"))
	got, _ := store.Get(inc.ID)
	require.Len(t, got.Timeline, 3)
	assert.Equal(t, types.EventCreated, got.Timeline[0].Type)
	assert.Equal(t, types.EventAssignment, got.Timeline[1].Type)
	assert.Equal(t, types.EventStatusChange, got.Timeline[2].Type)
	assert.Equal(t, "lead", got.Timeline[2].User)
	assert.Contains(t, got.Timeline[2].Description, "new to assigned")

	// A second assignment does not move the status again.
	require.NoError(t, store.Assign(inc.ID, "analyst-2", "lead"))
	got, _ = store.Get(inc.ID)
	require.Len(t, got.Timeline, 4)
	assert.Equal(t, types.EventAssignment, got.Timeline[3].Type)
}

func TestIncidentStore_SubscribeChanges(t *testing.T) {
	store := NewIncidentStore()
	var changes []types.Incident
	store.SubscribeChanges(func(_ context.Context, inc types.Incident) error {
		// Handlers run outside the lock, so reading back must not deadlock.
		_, err := store.Get(inc.ID)
		changes = append(changes, inc)
		return err
	})

	inc, _ := store.LookupOrCreate(criticalNetwork(), func() types.Incident { return types.Incident{Title: "t"} })
	_, created := store.LookupOrCreate(criticalNetwork(), func() types.Incident { return types.Incident{Title: "t"} })
	assert.False(t, created)
	require.Len(t, changes, 1)

	_, err := store.AppendEvent(inc.ID, types.IncidentEvent{Type: types.EventComment})
	require.NoError(t, err)
	require.NoError(t, store.Assign(inc.ID, "analyst-1", "lead"))
	require.NoError(t, store.UpdateStatus(inc.ID, types.IncidentResolved, "analyst-1"))
	require.Len(t, changes, 4)

	last := changes[3]
	assert.Equal(t, types.IncidentResolved, last.Status)
	assert.NotNil(t, last.ResolvedAt)
	assert.Len(t, last.Timeline, 5)

	// Rejected mutations publish nothing.
	assert.Error(t, store.UpdateStatus(inc.ID, types.IncidentNew, ""))
	assert.Error(t, store.Assign("missing", "x", ""))
	assert.Len(t, changes, 4)
}

func TestIncidentStore_TimelineNonDecreasing(t *testing.T) {
	store := NewIncidentStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	inc, _ := store.LookupOrCreate(criticalNetwork(), func() types.Incident { return types.Incident{} })

	ev, err := store.AppendEvent(inc.ID, types.IncidentEvent{Type: types.EventComment, Timestamp: base.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, base, ev.Timestamp)

	_, err = store.AppendEvent(inc.ID, types.IncidentEvent{Type: types.EventComment, Timestamp: base.Add(time.Minute)})
	require.NoError(t, err)

	got, _ := store.Get(inc.ID)
	require.Len(t, got.Timeline, 3)
	for i := 1; i < len(got.Timeline); i++ {
		assert.False(t, got.Timeline[i].Timestamp.Before(got.Timeline[i-1].Timestamp))
		assert.Equal(t, inc.ID, got.Timeline[i].IncidentID)
	}

	// Copies handed out do not alias the stored timeline.
	got.Timeline[0].Description = "tampered"
	again, _ := store.Get(inc.ID)
	assert.NotEqual(t, "tampered", again.Timeline[0].Description)

	_, err = store.AppendEvent("missing", types.IncidentEvent{})
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}
