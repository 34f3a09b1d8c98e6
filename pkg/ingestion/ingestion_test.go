package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	perrors "github.com/lucid-vigil/secops/pkg/errors"
	"github.com/lucid-vigil/secops/pkg/simulate"
	"github.com/lucid-vigil/secops/pkg/testutil"
	"github.com/lucid-vigil/secops/pkg/types"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticFetcher(n int) Fetcher {
	return FetcherFunc(func(_ context.Context, src types.DataSource) ([]types.RawRecord, error) {
		out := make([]types.RawRecord, n)
		for i := range out {
			out[i] = types.RawRecord{ID: src.ID + "-" + string(rune('a'+i)), SourceID: src.ID, Timestamp: time.Now()}
		}
		return out, nil
	})
}

func scadaSource() types.DataSource {
	return types.DataSource{
		ID:              "scada-1",
		Name:            "Plant SCADA",
		Type:            types.SourceSCADA,
		Environment:     types.EnvironmentOT,
		Status:          types.SourceActive,
		PollingInterval: 30,
	}
}

func newTestStage(t *testing.T, opts ...Option) *Stage {
	t.Helper()
	s := New(zerolog.Nop(), opts...)
	t.Cleanup(s.Close)
	return s
}

func TestRegister_ScadaSourceCollectsImmediately(t *testing.T) {
	fetcher := NewSimulatedFetcher(simulate.New(1), 0, 0, 10)
	s := newTestStage(t, WithDefaultFetcher(fetcher))

	var mu sync.Mutex
	var batches []types.IngestionBatch
	got := make(chan struct{}, 1)
	s.Subscribe(func(b types.IngestionBatch) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
		select {
		case got <- struct{}{}:
		default:
		}
	})

	require.NoError(t, s.Register(context.Background(), scadaSource()))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no batch emitted on first tick")
	}

	src, err := s.Source("scada-1")
	require.NoError(t, err)
	assert.NotNil(t, src.LastSyncTime)
	assert.Equal(t, types.SourceActive, src.Status)
	assert.True(t, s.Running("scada-1"))

	buf, err := s.Buffer("scada-1")
	require.NoError(t, err)
	require.NotEmpty(t, buf)
	for _, r := range buf {
		assert.Equal(t, "scada-1", r.SourceID)
		assert.Contains(t, r.Data, "protocol")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "scada-1", batches[0].SourceID)
	assert.GreaterOrEqual(t, len(batches[0].Records), 1)
	assert.LessOrEqual(t, len(batches[0].Records), 10)
}

func TestRegister_Validation(t *testing.T) {
	s := newTestStage(t)

	bad := scadaSource()
	bad.Environment = "Mainframe"
	err := s.Register(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrInvalid))

	inactive := scadaSource()
	inactive.Status = types.SourceInactive
	require.NoError(t, s.Register(context.Background(), inactive))
	assert.False(t, s.Running(inactive.ID))

	err = s.Register(context.Background(), inactive)
	assert.ErrorIs(t, err, perrors.ErrInvalid)
}

func TestRegister_ZeroIntervalNotScheduled(t *testing.T) {
	s := newTestStage(t, WithDefaultFetcher(staticFetcher(1)))
	src := scadaSource()
	src.PollingInterval = 0
	require.NoError(t, s.Register(context.Background(), src))
	assert.False(t, s.Running(src.ID))

	require.NoError(t, s.Collect(context.Background(), src.ID))
	buf, err := s.Buffer(src.ID)
	require.NoError(t, err)
	assert.Len(t, buf, 1)
}

func TestCollect_FailureMarksError(t *testing.T) {
	boom := errors.New("connection refused")
	s := newTestStage(t, WithDefaultFetcher(FetcherFunc(func(context.Context, types.DataSource) ([]types.RawRecord, error) {
		return nil, boom
	})))
	src := scadaSource()
	src.Status = types.SourceInactive
	require.NoError(t, s.Register(context.Background(), src))

	emitted := 0
	s.Subscribe(func(types.IngestionBatch) { emitted++ })

	err := s.Collect(context.Background(), src.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var pe *perrors.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, perrors.KindSimulatedFailure, pe.Kind)

	got, _ := s.Source(src.ID)
	assert.Equal(t, types.SourceError, got.Status)
	assert.Nil(t, got.LastSyncTime)
	assert.Zero(t, emitted)
}

func TestCollect_SimulatedFailureRate(t *testing.T) {
	s := newTestStage(t, WithDefaultFetcher(NewSimulatedFetcher(simulate.New(3), 0, 1, 10)))
	src := scadaSource()
	src.PollingInterval = 0
	require.NoError(t, s.Register(context.Background(), src))

	err := s.Collect(context.Background(), src.ID)
	assert.ErrorIs(t, err, ErrSimulatedFetch)
}

func TestBuffer_DropsOldest(t *testing.T) {
	s := newTestStage(t, WithCapacity(5), WithDefaultFetcher(staticFetcher(3)))
	src := scadaSource()
	src.PollingInterval = 0
	require.NoError(t, s.Register(context.Background(), src))

	require.NoError(t, s.Collect(context.Background(), src.ID))
	require.NoError(t, s.Collect(context.Background(), src.ID))

	buf, err := s.Buffer(src.ID)
	require.NoError(t, err)
	require.Len(t, buf, 5)
	// First batch lost its first record.
	assert.Equal(t, "scada-1-b", buf[0].ID)
}

func TestStartStop_Idempotent(t *testing.T) {
	s := newTestStage(t, WithDefaultFetcher(staticFetcher(1)))
	require.NoError(t, s.Register(context.Background(), scadaSource()))

	require.NoError(t, s.Stop("scada-1"))
	require.NoError(t, s.Stop("scada-1"))
	assert.False(t, s.Running("scada-1"))
	src, _ := s.Source("scada-1")
	assert.Equal(t, types.SourceInactive, src.Status)

	require.NoError(t, s.Start("scada-1"))
	require.NoError(t, s.Start("scada-1"))
	assert.True(t, s.Running("scada-1"))

	assert.ErrorIs(t, s.Start("missing"), perrors.ErrNotFound)
	assert.ErrorIs(t, s.Stop("missing"), perrors.ErrNotFound)
}

func TestUpdateAndRemove(t *testing.T) {
	s := newTestStage(t, WithDefaultFetcher(staticFetcher(1)))
	require.NoError(t, s.Register(context.Background(), scadaSource()))

	updated := scadaSource()
	updated.Name = "Renamed"
	updated.Status = types.SourceInactive
	require.NoError(t, s.Update(context.Background(), updated))
	assert.False(t, s.Running("scada-1"))

	got, err := s.Source("scada-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.False(t, got.CreatedAt.IsZero())

	missing := scadaSource()
	missing.ID = "nope"
	assert.ErrorIs(t, s.Update(context.Background(), missing), perrors.ErrNotFound)

	require.NoError(t, s.Remove("scada-1"))
	_, err = s.Source("scada-1")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
	_, err = s.Buffer("scada-1")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
	assert.ErrorIs(t, s.Remove("scada-1"), perrors.ErrNotFound)
}

func TestSources_SortedAndLookup(t *testing.T) {
	s := newTestStage(t)
	for _, id := range []string{"b", "a", "c"} {
		src := scadaSource()
		src.ID = id
		src.Status = types.SourceInactive
		require.NoError(t, s.Register(context.Background(), src))
	}

	ids := []string{}
	for _, src := range s.Sources() {
		ids = append(ids, src.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	env, typ, ok := s.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, types.EnvironmentOT, env)
	assert.Equal(t, types.SourceSCADA, typ)
	_, _, ok = s.Lookup("zzz")
	assert.False(t, ok)
}

func TestCollect_SubscriberPanicDoesNotFail(t *testing.T) {
	s := newTestStage(t, WithDefaultFetcher(staticFetcher(2)))
	src := scadaSource()
	src.PollingInterval = 0
	require.NoError(t, s.Register(context.Background(), src))

	second := 0
	s.Subscribe(func(types.IngestionBatch) { panic("bad subscriber") })
	s.Subscribe(func(types.IngestionBatch) { second++ })

	assert.NoError(t, s.Collect(context.Background(), src.ID))
	assert.Equal(t, 1, second)
}

func TestSimulatedFetcher_HonorsContext(t *testing.T) {
	f := NewSimulatedFetcher(simulate.New(5), time.Hour, 0, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// A zero draw skips the sleep, so retry until the delay path is taken.
	for i := 0; i < 10; i++ {
		if _, err := f.Fetch(ctx, scadaSource()); err != nil {
			assert.ErrorIs(t, err, context.Canceled)
			return
		}
	}
	t.Fatal("fetch ignored cancelled context")
}

func TestHostFetcher(t *testing.T) {
	origInfo, origMem, origCPU := hostInfo, virtualMemory, cpuPercent
	origConns, origPids := connections, processIDs
	t.Cleanup(func() {
		hostInfo, virtualMemory, cpuPercent = origInfo, origMem, origCPU
		connections, processIDs = origConns, origPids
	})

	hostInfo = func(context.Context) (*host.InfoStat, error) {
		return &host.InfoStat{Hostname: "ws-01", OS: "linux", Platform: "ubuntu", Uptime: 42}, nil
	}
	virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 61.5}, nil
	}
	cpuPercent = func(context.Context, time.Duration, bool) ([]float64, error) {
		return []float64{12.5}, nil
	}
	connections = func(context.Context, string) ([]net.ConnectionStat, error) {
		return []net.ConnectionStat{
			{Status: "ESTABLISHED", Laddr: net.Addr{IP: "10.0.0.4", Port: 51000}},
			{Status: "ESTABLISHED", Laddr: net.Addr{IP: "127.0.0.1", Port: 5432}},
			{Status: "LISTEN", Laddr: net.Addr{IP: "0.0.0.0", Port: 22}},
		}, nil
	}
	processIDs = func(context.Context) ([]int32, error) { return []int32{1, 2, 3}, nil }

	src := types.DataSource{ID: "edr-1", Type: types.SourceEndpointAgent, Environment: types.EnvironmentIT}
	records, err := HostFetcher{}.Fetch(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "edr-1", records[0].SourceID)
	assert.Equal(t, "ws-01", records[0].Data["host"])
	assert.Equal(t, 61.5, records[0].Data["mem_used_pct"])
	assert.Equal(t, 12.5, records[0].Data["cpu_used_pct"])
	assert.Equal(t, 1, records[0].Data["established_connections"])
	assert.Equal(t, 1, records[0].Data["listening_ports"])
	assert.Equal(t, 3, records[0].Data["process_count"])

	hostInfo = func(context.Context) (*host.InfoStat, error) { return nil, errors.New("no procfs") }
	_, err = HostFetcher{}.Fetch(context.Background(), src)
	assert.Error(t, err)
}

func TestSimulatedFetcher_Conformance(t *testing.T) {
	for _, st := range []types.SourceType{types.SourceSCADA, types.SourceFirewall, types.SourceCloudTrail, types.SourceVulnScanner, types.SourceSIEM} {
		st := st
		t.Run(string(st), func(t *testing.T) {
			src := scadaSource()
			src.ID = "sim-" + string(st)
			src.Type = st
			testutil.NewFetcherSuite(t, NewSimulatedFetcher(simulate.New(9), 0, 0, 4)).
				WithSource(src).
				WithTimeout(time.Second).
				RunBasicTests()
		})
	}

	testutil.NewFetcherSuite(t, NewSimulatedFetcher(simulate.New(10), time.Millisecond, 0, 4)).RunConcurrencyTests()
}

func TestCollect_DedupWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := newTestStage(t,
		WithDefaultFetcher(staticFetcher(2)),
		WithDedupWindow(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	var sizes []int
	s.Subscribe(func(b types.IngestionBatch) { sizes = append(sizes, len(b.Records)) })

	src := scadaSource()
	src.PollingInterval = 0
	require.NoError(t, s.Register(context.Background(), src))

	require.NoError(t, s.Collect(context.Background(), src.ID))
	// Same ids inside the window: nothing published, sync time still moves.
	now = now.Add(30 * time.Second)
	require.NoError(t, s.Collect(context.Background(), src.ID))
	assert.Equal(t, []int{2}, sizes)
	got, err := s.Source(src.ID)
	require.NoError(t, err)
	assert.Equal(t, now, *got.LastSyncTime)

	now = now.Add(2 * time.Minute)
	require.NoError(t, s.Collect(context.Background(), src.ID))
	assert.Equal(t, []int{2, 2}, sizes)

	buf, err := s.Buffer(src.ID)
	require.NoError(t, err)
	assert.Len(t, buf, 4)

	// Removing a source forgets what it delivered.
	require.NoError(t, s.Remove(src.ID))
	require.NoError(t, s.Register(context.Background(), src))
	require.NoError(t, s.Collect(context.Background(), src.ID))
	assert.Equal(t, []int{2, 2, 2}, sizes)
}

func TestCollect_StopDuringFetchStaysInactive(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	// Ignores ctx, like a fetcher blocked in a host call.
	blocking := FetcherFunc(func(_ context.Context, src types.DataSource) ([]types.RawRecord, error) {
		close(entered)
		<-release
		return []types.RawRecord{{ID: "r1", SourceID: src.ID, Timestamp: time.Now()}}, nil
	})
	s := newTestStage(t, WithDefaultFetcher(blocking))

	published := make(chan types.IngestionBatch, 1)
	s.Subscribe(func(b types.IngestionBatch) { published <- b })

	require.NoError(t, s.Register(context.Background(), scadaSource()))
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick never fetched")
	}

	require.NoError(t, s.Stop("scada-1"))
	close(release)

	select {
	case b := <-published:
		assert.Len(t, b.Records, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight batch was not delivered")
	}

	src, err := s.Source("scada-1")
	require.NoError(t, err)
	assert.Equal(t, types.SourceInactive, src.Status)
	assert.NotNil(t, src.LastSyncTime)
	assert.False(t, s.Running("scada-1"))
}

func TestCollect_SuccessClearsErrorStatus(t *testing.T) {
	fail := true
	s := newTestStage(t, WithDefaultFetcher(FetcherFunc(func(_ context.Context, src types.DataSource) ([]types.RawRecord, error) {
		if fail {
			return nil, errors.New("timeout")
		}
		return []types.RawRecord{{ID: "r1", SourceID: src.ID}}, nil
	})))
	src := scadaSource()
	src.PollingInterval = 0
	require.NoError(t, s.Register(context.Background(), src))

	require.Error(t, s.Collect(context.Background(), src.ID))
	got, _ := s.Source(src.ID)
	require.Equal(t, types.SourceError, got.Status)

	fail = false
	require.NoError(t, s.Collect(context.Background(), src.ID))
	got, _ = s.Source(src.ID)
	assert.Equal(t, types.SourceActive, got.Status)
}

func TestSubscribeSourceChanges(t *testing.T) {
	fail := false
	s := newTestStage(t, WithDefaultFetcher(FetcherFunc(func(_ context.Context, src types.DataSource) ([]types.RawRecord, error) {
		if fail {
			return nil, errors.New("refused")
		}
		return []types.RawRecord{{ID: "r1", SourceID: src.ID}}, nil
	})))

	var changes []SourceChange
	s.SubscribeSourceChanges(func(_ context.Context, c SourceChange) error {
		changes = append(changes, c)
		return nil
	})
	status := func(i int) types.SourceStatus { return changes[i].Source.Status }

	src := scadaSource()
	src.PollingInterval = 0
	require.NoError(t, s.Register(context.Background(), src))
	require.Len(t, changes, 1)
	assert.Equal(t, types.SourceActive, status(0))

	require.NoError(t, s.Collect(context.Background(), src.ID))
	require.Len(t, changes, 2)
	assert.NotNil(t, changes[1].Source.LastSyncTime)

	fail = true
	require.Error(t, s.Collect(context.Background(), src.ID))
	require.Len(t, changes, 3)
	assert.Equal(t, types.SourceError, status(2))

	require.NoError(t, s.Stop(src.ID))
	require.NoError(t, s.Stop(src.ID))
	require.Len(t, changes, 4)
	assert.Equal(t, types.SourceInactive, status(3))

	require.NoError(t, s.Start(src.ID))
	require.Len(t, changes, 5)
	assert.Equal(t, types.SourceActive, status(4))

	renamed := src
	renamed.Name = "Renamed"
	require.NoError(t, s.Update(context.Background(), renamed))
	require.Len(t, changes, 6)
	assert.Equal(t, "Renamed", changes[5].Source.Name)

	require.NoError(t, s.Remove(src.ID))
	require.Len(t, changes, 7)
	assert.True(t, changes[6].Removed)
	assert.Equal(t, src.ID, changes[6].Source.ID)
}
