package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/lucid-vigil/secops/pkg/types"
	"github.com/stretchr/testify/mock"
)

// ActionCall records one Execute invocation.
type ActionCall struct {
	Action    string
	Params    map[string]interface{}
	Timestamp time.Time
}

// MockExecutor is a testify mock of an action executor. Expectations return
// a types.ActionResult.
type MockExecutor struct {
	mock.Mock

	mu    sync.Mutex
	calls []ActionCall
}

func (m *MockExecutor) Execute(ctx context.Context, action string, params map[string]interface{}) types.ActionResult {
	m.mu.Lock()
	m.calls = append(m.calls, ActionCall{Action: action, Params: params, Timestamp: time.Now()})
	m.mu.Unlock()

	args := m.Called(ctx, action, params)
	return args.Get(0).(types.ActionResult)
}

// Calls returns the recorded invocations in order.
func (m *MockExecutor) Calls() []ActionCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ActionCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Succeeded builds a successful result for action.
func Succeeded(action string) types.ActionResult {
	return types.ActionResult{Action: action, Success: true, Timestamp: time.Now().UTC()}
}

// Failed builds a failed result for action carrying msg.
func Failed(action, msg string) types.ActionResult {
	return types.ActionResult{Action: action, Success: false, Message: msg, Timestamp: time.Now().UTC()}
}
