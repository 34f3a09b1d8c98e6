package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lucid-vigil/secops/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fetcher is the contract the suite exercises.
type Fetcher interface {
	Fetch(ctx context.Context, source types.DataSource) ([]types.RawRecord, error)
}

// FetcherSuite runs the checks every fetcher must pass.
type FetcherSuite struct {
	t       *testing.T
	fetcher Fetcher
	source  types.DataSource
	timeout time.Duration
}

// NewFetcherSuite targets f with a default IT firewall source.
func NewFetcherSuite(t *testing.T, f Fetcher) *FetcherSuite {
	return &FetcherSuite{
		t:       t,
		fetcher: f,
		source: types.DataSource{
			ID:          "suite-src",
			Name:        "Suite source",
			Type:        types.SourceFirewall,
			Environment: types.EnvironmentIT,
			Status:      types.SourceActive,
		},
		timeout: 5 * time.Second,
	}
}

// WithSource changes the source handed to Fetch.
func (fs *FetcherSuite) WithSource(src types.DataSource) *FetcherSuite {
	fs.source = src
	return fs
}

// WithTimeout bounds each Fetch call.
func (fs *FetcherSuite) WithTimeout(d time.Duration) *FetcherSuite {
	fs.timeout = d
	return fs
}

// RunBasicTests checks record shape.
func (fs *FetcherSuite) RunBasicTests() {
	fs.t.Run("RecordsTaggedWithSource", fs.testRecordsTagged)
	fs.t.Run("RecordIDsUnique", fs.testUniqueIDs)
}

// RunConcurrencyTests checks Fetch under parallel callers.
func (fs *FetcherSuite) RunConcurrencyTests() {
	fs.t.Run("ConcurrentFetch", fs.testConcurrentFetch)
}

func (fs *FetcherSuite) fetch(t *testing.T) []types.RawRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), fs.timeout)
	defer cancel()
	records, err := fs.fetcher.Fetch(ctx, fs.source)
	require.NoError(t, err)
	return records
}

func (fs *FetcherSuite) testRecordsTagged(t *testing.T) {
	records := fs.fetch(t)
	require.NotEmpty(t, records, "fetch should return at least one record")
	for _, r := range records {
		assert.Equal(t, fs.source.ID, r.SourceID)
		assert.NotEmpty(t, r.ID)
		assert.False(t, r.Timestamp.IsZero(), "record %s has no timestamp", r.ID)
		assert.NotNil(t, r.Data)
	}
}

func (fs *FetcherSuite) testUniqueIDs(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		for _, r := range fs.fetch(t) {
			assert.False(t, seen[r.ID], "duplicate record id %s", r.ID)
			seen[r.ID] = true
		}
	}
}

func (fs *FetcherSuite) testConcurrentFetch(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan error, 5)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs <- fmt.Errorf("panic: %v", r)
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), fs.timeout)
			defer cancel()
			if _, err := fs.fetcher.Fetch(ctx, fs.source); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err, "concurrent fetch should not fail")
	}
}
