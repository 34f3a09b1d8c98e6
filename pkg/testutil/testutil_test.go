package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lucid-vigil/secops/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestLogCapture(t *testing.T) {
	lc := NewLogCapture()
	logger := lc.Logger()

	logger.Info().Str("source_id", "s1").Msg("Collected batch")
	logger.Warn().Msg("Buffer full")

	entries := lc.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "info", entries[0].Level)
	assert.Equal(t, "Collected batch", entries[0].Message)
	assert.Equal(t, "s1", entries[0].Fields["source_id"])
	assert.NotContains(t, entries[0].Fields, "message")

	assert.True(t, lc.Contains("warn", "Buffer full"))
	assert.True(t, lc.Contains("", "Buffer full"))
	assert.False(t, lc.Contains("error", "Buffer full"))

	lc.Clear()
	assert.Empty(t, lc.Entries())
	assert.Empty(t, lc.String())
}

func TestMockExecutor_RecordsCalls(t *testing.T) {
	m := new(MockExecutor)
	m.On("Execute", mock.Anything, "block_ip", mock.Anything).Return(Succeeded("block_ip"))
	m.On("Execute", mock.Anything, "isolate_host", mock.Anything).Return(Failed("isolate_host", "unreachable"))

	res := m.Execute(context.Background(), "block_ip", map[string]interface{}{"ip": "10.0.0.1"})
	assert.True(t, res.Success)
	res = m.Execute(context.Background(), "isolate_host", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "unreachable", res.Message)

	calls := m.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "block_ip", calls[0].Action)
	assert.Equal(t, "10.0.0.1", calls[0].Params["ip"])
	m.AssertExpectations(t)
}

type uuidFetcher struct{}

func (uuidFetcher) Fetch(_ context.Context, src types.DataSource) ([]types.RawRecord, error) {
	return []types.RawRecord{{ID: uuid.New().String(), SourceID: src.ID, Timestamp: time.Now().UTC(), Data: map[string]interface{}{}}}, nil
}

func TestFetcherSuite(t *testing.T) {
	s := NewFetcherSuite(t, uuidFetcher{})
	s.RunBasicTests()
	s.RunConcurrencyTests()
}
